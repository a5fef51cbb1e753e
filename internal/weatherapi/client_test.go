package weatherapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"

	"github.com/lox/cityweather/internal/metrics"
	"github.com/lox/cityweather/internal/models"
)

const londonResponse = `{
  "location": {"name": "London", "region": "City of London, Greater London", "country": "United Kingdom", "localtime": "2026-10-19 14:05"},
  "current": {
    "temp_c": 15,
    "condition": {"text": "Cloudy", "icon": "//cdn.weatherapi.com/weather/64x64/day/119.png"},
    "wind_kph": 10,
    "humidity": 80,
    "air_quality": {"us-epa-index": 2}
  },
  "forecast": {"forecastday": [
    {"date": "2026-10-19", "day": {"maxtemp_c": 16.2, "mintemp_c": 9.1, "daily_chance_of_rain": 40, "condition": {"text": "Patchy rain nearby", "icon": "//cdn.weatherapi.com/weather/64x64/day/176.png"}}},
    {"date": "2026-10-20", "day": {"maxtemp_c": 14.0, "mintemp_c": 8.0, "daily_chance_of_rain": 85, "condition": {"text": "Moderate rain", "icon": "//cdn.weatherapi.com/weather/64x64/day/302.png"}}}
  ]}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestFetch_Success(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast.json" {
			t.Errorf("path = %s, want /forecast.json", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		q := r.URL.Query()
		if q.Get("q") != "london" || q.Get("key") != "test-key" || q.Get("aqi") != "yes" || q.Get("days") != "3" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(londonResponse))
	})

	res := c.Fetch(context.Background(), "london")
	if !res.OK() {
		t.Fatalf("Fetch failed: %v (query %s)", res.Failure, gotQuery)
	}

	w := res.Weather
	if w.Location.CanonicalName != "London" {
		t.Errorf("CanonicalName = %q, want London", w.Location.CanonicalName)
	}
	if w.Location.LocalTime != "2026-10-19 14:05" {
		t.Errorf("LocalTime = %q", w.Location.LocalTime)
	}
	if w.Current.TemperatureC != 15 || w.Current.WindKph != 10 || w.Current.HumidityPercent != 80 {
		t.Errorf("Current = %+v", w.Current)
	}
	if w.Current.ConditionText != "Cloudy" {
		t.Errorf("ConditionText = %q, want Cloudy", w.Current.ConditionText)
	}
	if w.Current.ConditionIconURL != "https://cdn.weatherapi.com/weather/64x64/day/119.png" {
		t.Errorf("ConditionIconURL = %q", w.Current.ConditionIconURL)
	}
	if w.Current.AirQualityIndex == nil || *w.Current.AirQualityIndex != 2 {
		t.Errorf("AirQualityIndex = %v, want 2", w.Current.AirQualityIndex)
	}
	if len(w.Forecast) != 2 {
		t.Fatalf("len(Forecast) = %d, want 2", len(w.Forecast))
	}
	if w.Forecast[1].ChanceOfRain != 85 || w.Forecast[1].MaxTempC != 14 {
		t.Errorf("Forecast[1] = %+v", w.Forecast[1])
	}
}

func TestFetch_CoordinatesPassedAsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "51.52,-0.11" {
			t.Errorf("q = %q, want 51.52,-0.11", got)
		}
		w.Write([]byte(londonResponse))
	})

	res := c.Fetch(context.Background(), "51.52,-0.11")
	if !res.OK() {
		t.Fatalf("Fetch failed: %v", res.Failure)
	}
	if res.Weather.Location.CanonicalName != "London" {
		t.Errorf("CanonicalName = %q, want London", res.Weather.Location.CanonicalName)
	}
}

func TestFetch_MinimalResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"location": {"name": "London"}, "current": {"temp_c": 15, "condition": {"text": "Cloudy", "icon": "x.png"}, "wind_kph": 10, "humidity": 80}}`))
	})

	res := c.Fetch(context.Background(), "london")
	if !res.OK() {
		t.Fatalf("Fetch failed: %v", res.Failure)
	}
	if res.Weather.Current.AirQualityIndex != nil {
		t.Error("AirQualityIndex should be absent")
	}
	if res.Weather.Current.ConditionIconURL != "x.png" {
		t.Errorf("ConditionIconURL = %q, want x.png", res.Weather.Current.ConditionIconURL)
	}
	if res.Weather.Forecast != nil {
		t.Errorf("Forecast = %v, want nil", res.Weather.Forecast)
	}
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    models.FailureKind
		message string
	}{
		{
			name:    "not found",
			status:  http.StatusBadRequest,
			body:    `{"error": {"code": 1006, "message": "No matching location found."}}`,
			kind:    models.FailureNotFound,
			message: "No matching location found.",
		},
		{
			name:    "bad key",
			status:  http.StatusUnauthorized,
			body:    `{"error": {"code": 2006, "message": "API key is invalid."}}`,
			kind:    models.FailureProvider,
			message: "API key is invalid.",
		},
		{
			name:    "empty provider message",
			status:  http.StatusBadRequest,
			body:    `{"error": {"code": 1003, "message": ""}}`,
			kind:    models.FailureProvider,
			message: NotFoundMessage,
		},
		{
			name:    "no error payload",
			status:  http.StatusForbidden,
			body:    `<html>forbidden</html>`,
			kind:    models.FailureProvider,
			message: NotFoundMessage,
		},
		{
			name:    "plain 404",
			status:  http.StatusNotFound,
			body:    ``,
			kind:    models.FailureNotFound,
			message: NotFoundMessage,
		},
		{
			name:    "server error with message",
			status:  http.StatusInternalServerError,
			body:    `{"error": {"code": 9999, "message": "Internal application error."}}`,
			kind:    models.FailureProvider,
			message: "Internal application error.",
		},
		{
			name:    "missing current",
			status:  http.StatusOK,
			body:    `{"location": {"name": "London"}}`,
			kind:    models.FailureMalformed,
			message: MalformedMessage,
		},
		{
			name:    "missing location",
			status:  http.StatusOK,
			body:    `{"current": {"temp_c": 1}}`,
			kind:    models.FailureMalformed,
			message: MalformedMessage,
		},
		{
			name:    "invalid json",
			status:  http.StatusOK,
			body:    `{"location":`,
			kind:    models.FailureMalformed,
			message: MalformedMessage,
		},
		{
			name:    "error payload with 200",
			status:  http.StatusOK,
			body:    `{"error": {"code": 1006, "message": "No matching location found."}}`,
			kind:    models.FailureNotFound,
			message: "No matching location found.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			res := c.Fetch(context.Background(), "atlantis")
			if res.Weather != nil {
				t.Fatal("expected no weather on failure")
			}
			if res.Failure == nil {
				t.Fatal("expected failure")
			}
			if res.Failure.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", res.Failure.Kind, tt.kind)
			}
			if res.Failure.Message != tt.message {
				t.Errorf("Message = %q, want %q", res.Failure.Message, tt.message)
			}
		})
	}
}

func TestFetch_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("k", WithBaseURL(url))
	res := c.Fetch(context.Background(), "london")
	if res.Failure == nil || res.Failure.Kind != models.FailureNetwork {
		t.Fatalf("Failure = %+v, want network failure", res.Failure)
	}
	if res.Failure.Message != NotFoundMessage {
		t.Errorf("Message = %q, want fallback", res.Failure.Message)
	}
	if res.Failure.Err == nil {
		t.Error("expected underlying cause")
	}
}

func TestFetch_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("k", WithBaseURL(srv.URL), WithBreaker(gobreaker.Settings{
		Name:    "test",
		Timeout: time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	}))

	for i := 0; i < 5; i++ {
		c.Fetch(context.Background(), "london")
	}

	if got := hits.Load(); got != 2 {
		t.Errorf("provider hits = %d, want 2", got)
	}
	res := c.Fetch(context.Background(), "london")
	if res.Failure == nil || res.Failure.Kind != models.FailureNetwork {
		t.Errorf("Failure = %+v, want network failure while open", res.Failure)
	}
}

func TestFetch_NotFoundDoesNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 1006, "message": "No matching location found."}}`))
	})

	for i := 0; i < 10; i++ {
		c.Fetch(context.Background(), "atlantis")
	}
	if got := hits.Load(); got != 10 {
		t.Errorf("provider hits = %d, want 10", got)
	}
}

func TestFetch_RecordsMetrics(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 1006, "message": "No matching location found."}}`))
	})

	before := testutil.ToFloat64(metrics.ProviderCallsTotal.WithLabelValues("not_found"))
	c.Fetch(context.Background(), "atlantis")
	after := testutil.ToFloat64(metrics.ProviderCallsTotal.WithLabelValues("not_found"))

	if after-before != 1 {
		t.Errorf("not_found counter delta = %v, want 1", after-before)
	}
}

func TestIconURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"//cdn.weatherapi.com/a.png", "https://cdn.weatherapi.com/a.png"},
		{"https://cdn.weatherapi.com/a.png", "https://cdn.weatherapi.com/a.png"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := iconURL(tt.in); got != tt.want {
			t.Errorf("iconURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClient_Live(t *testing.T) {
	key := os.Getenv("WEATHERAPI_KEY")
	if testing.Short() || key == "" {
		t.Skip("skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := NewClient(key).Fetch(ctx, "london")
	if !res.OK() {
		t.Fatalf("Fetch failed: %v", res.Failure)
	}
	t.Logf("%s: %.1f°C %s", res.Weather.Location.CanonicalName, res.Weather.Current.TemperatureC, res.Weather.Current.ConditionText)
}
