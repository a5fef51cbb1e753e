// Package widget ties the query cache and preferences together the way the
// search box and weather card use them: submissions, the shown error, the
// unit toggle and the data to display.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lox/cityweather/internal/metrics"
	"github.com/lox/cityweather/internal/models"
	"github.com/lox/cityweather/internal/prefs"
	"github.com/lox/cityweather/internal/query"
)

const (
	EmptyInputMessage = "Please enter a city name"
	LoadFailedMessage = "Failed to load weather data"
	retryHint         = "Please try again."
)

var ErrEmptyInput = errors.New("empty city name")

// LookupLog records every submission. Optional.
type LookupLog interface {
	RecordLookup(l models.Lookup) error
}

type Widget struct {
	cache   *query.Cache
	prefs   *prefs.Store
	lookups LookupLog

	mu  sync.Mutex
	sub *query.Subscription
	err string
	// errSub and errGen identify the observation the error was raised
	// against; the error is dropped once that observation starts a newer
	// fetch.
	errSub *query.Subscription
	errGen uint64
}

func New(cache *query.Cache, prefs *prefs.Store) *Widget {
	return &Widget{cache: cache, prefs: prefs}
}

func (w *Widget) SetLookupLog(l LookupLog) {
	w.lookups = l
}

// Start begins observing the last submitted city.
func (w *Widget) Start() {
	w.observe(w.prefs.LastCity())
}

// Submit validates raw, looks it up and on success makes the provider's
// canonical name the current city.
func (w *Widget) Submit(ctx context.Context, raw string) (*models.Weather, error) {
	city := strings.TrimSpace(raw)
	if city == "" {
		w.setError(EmptyInputMessage)
		metrics.SubmissionsTotal.WithLabelValues("empty").Inc()
		return nil, ErrEmptyInput
	}

	w.ClearError()

	res, err := w.cache.Fetch(ctx, models.WeatherQuery{City: city})
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", city, err)
	}

	if !res.OK() {
		f := res.Failure
		w.setError(withRetryHint(f.Message))
		w.record(models.Lookup{Query: city, Success: false, FailureKind: f.Kind.String(), Message: f.Message})
		metrics.SubmissionsTotal.WithLabelValues(f.Kind.String()).Inc()
		return nil, f
	}

	canonical := res.Weather.Location.CanonicalName
	if canonical == "" {
		canonical = city
	}
	if err := w.prefs.RecordSubmission(canonical); err != nil {
		log.Printf("widget: persist submission %q: %v", canonical, err)
	}
	w.cache.Prime(models.WeatherQuery{City: canonical}, res.Weather)
	w.observe(canonical)
	w.ClearError()

	w.record(models.Lookup{Query: city, CanonicalName: canonical, Success: true})
	metrics.SubmissionsTotal.WithLabelValues("ok").Inc()
	return res.Weather, nil
}

// Select shows a city from the recent searches without re-recording it.
func (w *Widget) Select(city string) error {
	city = strings.TrimSpace(city)
	if city == "" {
		return ErrEmptyInput
	}
	if err := w.prefs.SelectCity(city); err != nil {
		return err
	}
	w.observe(city)
	w.ClearError()
	return nil
}

// ToggleUnit flips between Celsius and Fahrenheit.
func (w *Widget) ToggleUnit() (bool, error) {
	return w.prefs.ToggleUnit()
}

func (w *Widget) Focus() {
	w.cache.Focus()
}

// Error returns the externally set error, dropping it once the observed
// city has started another fetch.
func (w *Widget) Error() string {
	sub := w.Subscription()
	if sub == nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.err
	}
	return w.currentError(sub, sub.State())
}

func (w *Widget) ClearError() {
	w.setError("")
}

func (w *Widget) Preferences() models.Preferences {
	return w.prefs.Preferences()
}

// Subscription returns the current observation, or nil before Start.
func (w *Widget) Subscription() *query.Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sub
}

func (w *Widget) Close() {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// View is everything the weather card needs to render.
type View struct {
	City           string          `json:"city"`
	Loading        bool            `json:"loading"`
	Refreshing     bool            `json:"refreshing"`
	Error          string          `json:"error,omitempty"`
	Weather        *models.Weather `json:"weather,omitempty"`
	Temperature    *int            `json:"temperature,omitempty"`
	Unit           string          `json:"unit"`
	UseCelsius     bool            `json:"use_celsius"`
	RecentSearches []string        `json:"recent_searches"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
}

// View combines the cache state with the shown error. The externally set
// error wins; a cache error without one falls back to LoadFailedMessage.
func (w *Widget) View() View {
	p := w.prefs.Preferences()
	v := View{
		City:           p.LastCity,
		Unit:           models.UnitSymbol(p.UseCelsius),
		UseCelsius:     p.UseCelsius,
		RecentSearches: p.RecentSearches,
	}

	sub := w.Subscription()
	if sub == nil {
		w.mu.Lock()
		v.Error = w.err
		w.mu.Unlock()
		return v
	}
	st := sub.State()
	v.Error = w.currentError(sub, st)
	v.City = sub.Key().City
	v.Loading = st.IsLoading
	v.Refreshing = st.IsFetching && !st.IsLoading

	if v.Error == "" && st.IsError {
		v.Error = LoadFailedMessage
		if st.Failure != nil && st.Failure.Message != "" {
			v.Error = withRetryHint(st.Failure.Message)
		}
	}
	if v.Error != "" || v.Loading {
		return v
	}

	if st.Data != nil {
		v.Weather = st.Data
		t := models.DisplayTemperature(st.Data.Current.TemperatureC, p.UseCelsius)
		v.Temperature = &t
		updated := st.UpdatedAt
		v.UpdatedAt = &updated
	}
	return v
}

func (w *Widget) observe(city string) {
	sub := w.cache.Observe(models.WeatherQuery{City: city})

	w.mu.Lock()
	prev := w.sub
	w.sub = sub
	w.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}
}

func (w *Widget) currentError(sub *query.Subscription, st query.State) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != "" && w.errSub == sub && st.Generation > w.errGen {
		w.err = ""
		w.errSub = nil
	}
	return w.err
}

func (w *Widget) setError(msg string) {
	sub := w.Subscription()
	var gen uint64
	if sub != nil && msg != "" {
		gen = sub.State().Generation
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = msg
	w.errSub = nil
	w.errGen = 0
	if msg != "" {
		w.errSub = sub
		w.errGen = gen
	}
}

func (w *Widget) record(l models.Lookup) {
	if w.lookups == nil {
		return
	}
	l.LookedUpAt = time.Now().UTC()
	if err := w.lookups.RecordLookup(l); err != nil {
		log.Printf("widget: record lookup %q: %v", l.Query, err)
	}
}

// withRetryHint appends "Please try again." unless the message already asks.
func withRetryHint(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return LoadFailedMessage + ". " + retryHint
	}
	if strings.Contains(strings.ToLower(msg), "try again") {
		return msg
	}
	return strings.TrimRight(msg, ".") + ". " + retryHint
}
