package models

import (
	"fmt"
	"math"
	"time"
)

// DefaultCity is used when no city has ever been submitted.
const DefaultCity = "london"

// WeatherQuery identifies a lookup. City is used verbatim as the cache key.
type WeatherQuery struct {
	City string
}

func (q WeatherQuery) String() string {
	return q.City
}

type Location struct {
	CanonicalName string `json:"name"`
	Region        string `json:"region,omitempty"`
	Country       string `json:"country,omitempty"`
	LocalTime     string `json:"localtime"`
}

type Current struct {
	TemperatureC     float64 `json:"temp_c"`
	ConditionText    string  `json:"condition_text"`
	ConditionIconURL string  `json:"condition_icon"`
	WindKph          float64 `json:"wind_kph"`
	HumidityPercent  float64 `json:"humidity"`
	AirQualityIndex  *int    `json:"aqi,omitempty"` // US EPA index
}

type ForecastDay struct {
	Date             string  `json:"date"`
	MaxTempC         float64 `json:"max_temp_c"`
	MinTempC         float64 `json:"min_temp_c"`
	ConditionText    string  `json:"condition_text"`
	ConditionIconURL string  `json:"condition_icon"`
	ChanceOfRain     int     `json:"chance_of_rain"`
}

type Weather struct {
	Location Location      `json:"location"`
	Current  Current       `json:"current"`
	Forecast []ForecastDay `json:"forecast"`
}

type FailureKind int

const (
	FailureProvider FailureKind = iota
	FailureNotFound
	FailureMalformed
	FailureNetwork
)

func (k FailureKind) String() string {
	switch k {
	case FailureNotFound:
		return "not_found"
	case FailureMalformed:
		return "malformed"
	case FailureNetwork:
		return "network"
	default:
		return "provider"
	}
}

// Failure is an expected lookup failure. Message is fit for display.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result holds exactly one of Weather or Failure.
type Result struct {
	Weather *Weather
	Failure *Failure
}

func Success(w *Weather) Result {
	return Result{Weather: w}
}

func Fail(kind FailureKind, message string, err error) Result {
	return Result{Failure: &Failure{Kind: kind, Message: message, Err: err}}
}

func (r Result) OK() bool {
	return r.Failure == nil && r.Weather != nil
}

// Preferences is the persisted per-user state.
type Preferences struct {
	LastCity       string   `json:"last_city"`
	RecentSearches []string `json:"recent_searches"`
	UseCelsius     bool     `json:"use_celsius"`
}

func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// DisplayTemperature converts to the preferred unit and rounds to a whole degree.
func DisplayTemperature(celsius float64, useCelsius bool) int {
	t := celsius
	if !useCelsius {
		t = CelsiusToFahrenheit(celsius)
	}
	return int(math.Round(t))
}

func UnitSymbol(useCelsius bool) string {
	if useCelsius {
		return "C"
	}
	return "F"
}

// Lookup is one submitted search and its outcome.
type Lookup struct {
	ID            int64     `json:"id"`
	Query         string    `json:"query"`
	CanonicalName string    `json:"canonical_name,omitempty"`
	Success       bool      `json:"success"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	Message       string    `json:"message,omitempty"`
	LookedUpAt    time.Time `json:"looked_up_at"`
}
