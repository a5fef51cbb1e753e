package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lox/cityweather/internal/api"
	"github.com/lox/cityweather/internal/models"
	"github.com/lox/cityweather/internal/prefs"
	"github.com/lox/cityweather/internal/query"
	"github.com/lox/cityweather/internal/store"
	"github.com/lox/cityweather/internal/weatherapi"
	"github.com/lox/cityweather/internal/widget"
)

type Globals struct {
	APIKey          string        `help:"WeatherAPI.com key" env:"WEATHERAPI_KEY"`
	Backend         string        `help:"Preference backend" enum:"sqlite,redis,file,memory" default:"sqlite" env:"CITYWEATHER_BACKEND"`
	DB              string        `help:"Path to SQLite database" default:"data/cityweather.db" env:"CITYWEATHER_DB" type:"path"`
	RedisURL        string        `help:"Redis URL for the redis backend" env:"REDIS_URL"`
	RedisPrefix     string        `help:"Key prefix for the redis backend" default:"cityweather:"`
	PrefsFile       string        `help:"YAML preferences file for the file backend" default:"data/preferences.yaml" env:"CITYWEATHER_PREFS_FILE" type:"path"`
	ForecastDays    int           `help:"Forecast days to request" default:"3"`
	StaleTime       time.Duration `help:"How long a result counts as fresh" default:"30s"`
	RefetchInterval time.Duration `help:"Background refresh interval for the shown city (0 disables)" default:"60s"`
	GCTime          time.Duration `help:"Evict unobserved cache entries idle this long (0 disables)" default:"5m"`
}

type CLI struct {
	Globals

	Serve  ServeCmd  `cmd:"" help:"Serve the weather API"`
	Lookup LookupCmd `cmd:"" help:"Look up the weather for a city"`
	Recent RecentCmd `cmd:"" help:"Show the last city and recent searches"`
	Unit   UnitCmd   `cmd:"" help:"Show, set or toggle the temperature unit"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: load .env: %v", err)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("cityweather"),
		kong.Description("City weather lookups with remembered preferences."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

// app is the wired stack shared by every command.
type app struct {
	backend store.Backend
	prefs   *prefs.Store
	cache   *query.Cache
	widget  *widget.Widget
	lookups store.LookupLog
}

// openApp wires storage and preferences. The fetch stack is only built when
// withFetch is set so that offline commands work without an API key.
func openApp(g *Globals, withFetch bool) (*app, error) {
	backend, err := store.Open(store.Config{
		Backend:     g.Backend,
		DBPath:      g.DB,
		RedisURL:    g.RedisURL,
		RedisPrefix: g.RedisPrefix,
		PrefsFile:   g.PrefsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", g.Backend, err)
	}

	a := &app{backend: backend, prefs: prefs.New(backend)}
	if l, ok := backend.(store.LookupLog); ok {
		a.lookups = l
	}
	if _, err := a.prefs.LoadInitial(); err != nil {
		backend.Close()
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	if !withFetch {
		return a, nil
	}
	if g.APIKey == "" {
		backend.Close()
		return nil, errors.New("WEATHERAPI_KEY environment variable or --api-key required")
	}

	client := weatherapi.NewClient(g.APIKey, weatherapi.WithForecastDays(g.ForecastDays))
	opts := query.DefaultOptions()
	opts.StaleTime = g.StaleTime
	opts.RefetchInterval = g.RefetchInterval
	opts.GCTime = g.GCTime
	a.cache = query.New(client, opts)

	a.widget = widget.New(a.cache, a.prefs)
	if a.lookups != nil {
		a.widget.SetLookupLog(a.lookups)
	}
	return a, nil
}

func (a *app) Close() {
	if a.widget != nil {
		a.widget.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if err := a.backend.Close(); err != nil {
		log.Printf("close backend: %v", err)
	}
}

type ServeCmd struct {
	Port string `help:"HTTP server port" default:"8080" env:"PORT"`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := openApp(g, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.widget.Start()

	server := api.NewServer(a.widget, c.Port)
	if a.lookups != nil {
		server.SetLookupLister(a.lookups)
	}

	log.Printf("starting server on :%s (backend %s, city %s)", c.Port, g.Backend, a.prefs.LastCity())
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Println("server stopped")
	return nil
}

type LookupCmd struct {
	City string `arg:"" help:"City to look up"`
}

func (c *LookupCmd) Run(g *Globals) error {
	a, err := openApp(g, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := a.widget.Submit(ctx, c.City); err != nil {
		if msg := a.widget.Error(); msg != "" {
			return errors.New(msg)
		}
		return err
	}

	printView(a.widget.View())
	return nil
}

func printView(v widget.View) {
	w := v.Weather
	if w == nil {
		fmt.Println(v.City)
		return
	}

	name := w.Location.CanonicalName
	if w.Location.Country != "" {
		name += ", " + w.Location.Country
	}
	fmt.Printf("%s\n", name)
	if v.Temperature != nil {
		fmt.Printf("  %d°%s  %s\n", *v.Temperature, v.Unit, w.Current.ConditionText)
	}
	fmt.Printf("  wind %.0f km/h  humidity %.0f%%\n", w.Current.WindKph, w.Current.HumidityPercent)
	if w.Current.AirQualityIndex != nil {
		fmt.Printf("  air quality %d\n", *w.Current.AirQualityIndex)
	}
	for _, d := range w.Forecast {
		hi := models.DisplayTemperature(d.MaxTempC, v.UseCelsius)
		lo := models.DisplayTemperature(d.MinTempC, v.UseCelsius)
		fmt.Printf("  %s  %d/%d°%s  %s  rain %d%%\n", d.Date, hi, lo, v.Unit, d.ConditionText, d.ChanceOfRain)
	}
	if len(v.RecentSearches) > 0 {
		fmt.Printf("recent: %s\n", strings.Join(v.RecentSearches, ", "))
	}
}

type RecentCmd struct {
	Lookups int `help:"Also list this many logged lookups" default:"0"`
}

func (c *RecentCmd) Run(g *Globals) error {
	a, err := openApp(g, false)
	if err != nil {
		return err
	}
	defer a.Close()

	p := a.prefs.Preferences()
	fmt.Printf("last city: %s\n", p.LastCity)
	fmt.Printf("unit: %s\n", models.UnitSymbol(p.UseCelsius))
	for i, city := range p.RecentSearches {
		fmt.Printf("%d. %s\n", i+1, city)
	}

	if c.Lookups <= 0 {
		return nil
	}
	if a.lookups == nil {
		return fmt.Errorf("%s backend does not keep a lookup history", g.Backend)
	}
	lookups, err := a.lookups.RecentLookups(c.Lookups)
	if err != nil {
		return fmt.Errorf("recent lookups: %w", err)
	}
	for _, l := range lookups {
		status := "ok"
		if !l.Success {
			status = l.FailureKind
		}
		fmt.Printf("%s  %-20s %-20s %s\n", l.LookedUpAt.Local().Format(time.DateTime), l.Query, l.CanonicalName, status)
	}
	return nil
}

type UnitCmd struct {
	Unit string `arg:"" optional:"" help:"c or f; toggles when omitted"`
}

func (c *UnitCmd) Run(g *Globals) error {
	a, err := openApp(g, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var useCelsius bool
	switch strings.ToLower(c.Unit) {
	case "c":
		useCelsius = true
		err = a.prefs.SetUseCelsius(true)
	case "f":
		err = a.prefs.SetUseCelsius(false)
	case "":
		useCelsius, err = a.prefs.ToggleUnit()
	default:
		return fmt.Errorf("unknown unit %q, want c or f", c.Unit)
	}
	if err != nil {
		return err
	}

	fmt.Printf("unit: %s\n", models.UnitSymbol(useCelsius))
	return nil
}
