// Package weatherapi fetches current conditions, forecast and air quality
// for a city from WeatherAPI.com.
package weatherapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lox/cityweather/internal/httputil"
	"github.com/lox/cityweather/internal/metrics"
	"github.com/lox/cityweather/internal/models"
)

const (
	DefaultBaseURL      = "https://api.weatherapi.com/v1"
	DefaultForecastDays = 3

	// NotFoundMessage is shown when the provider gives no usable message.
	NotFoundMessage  = "City not found. Please check the spelling and try again."
	MalformedMessage = "Invalid data structure received from API"

	// WeatherAPI error code for "No matching location found."
	codeNoLocation = 1006
)

type Client struct {
	apiKey     string
	baseURL    string
	days       int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithForecastDays(days int) Option {
	return func(c *Client) {
		if days > 0 {
			c.days = days
		}
	}
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(st gobreaker.Settings) Option {
	return func(c *Client) { c.breaker = gobreaker.NewCircuitBreaker(st) }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		days:       DefaultForecastDays,
		httpClient: httputil.NewClient(),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "weatherapi",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch looks up city. Expected failures come back as a Result, never a panic
// or error. The caller is responsible for rejecting blank input.
func (c *Client) Fetch(ctx context.Context, city string) models.Result {
	start := time.Now()
	res := c.fetch(ctx, city)
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())

	status := "ok"
	if res.Failure != nil {
		status = res.Failure.Kind.String()
	}
	metrics.ProviderCallsTotal.WithLabelValues(status).Inc()
	return res
}

type rawResponse struct {
	status int
	body   []byte
}

// serverError marks 5xx responses so the breaker counts them as failures.
type serverError struct {
	rawResponse
}

func (e *serverError) Error() string {
	return fmt.Sprintf("provider status %d", e.status)
}

func (c *Client) fetch(ctx context.Context, city string) models.Result {
	values := url.Values{}
	values.Set("key", c.apiKey)
	values.Set("q", city)
	values.Set("days", strconv.Itoa(c.days))
	values.Set("aqi", "yes")
	values.Set("alerts", "no")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/forecast.json?"+values.Encode(), nil)
	if err != nil {
		return models.Fail(models.FailureProvider, NotFoundMessage, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", httputil.UserAgent)
	req.Header.Set("Accept", "application/json")

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		raw := rawResponse{status: resp.StatusCode, body: body}
		if resp.StatusCode >= 500 {
			return nil, &serverError{raw}
		}
		return raw, nil
	})
	if err != nil {
		var se *serverError
		if errors.As(err, &se) {
			return providerFailure(se.status, se.body)
		}
		return models.Fail(models.FailureNetwork, NotFoundMessage, fmt.Errorf("fetch forecast: %w", err))
	}

	raw := out.(rawResponse)
	if raw.status != http.StatusOK {
		return providerFailure(raw.status, raw.body)
	}
	return decodeForecast(raw.body)
}

type providerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type forecastResponse struct {
	Location *struct {
		Name      string `json:"name"`
		Region    string `json:"region"`
		Country   string `json:"country"`
		Localtime string `json:"localtime"`
	} `json:"location"`
	Current *struct {
		TempC     float64 `json:"temp_c"`
		Condition struct {
			Text string `json:"text"`
			Icon string `json:"icon"`
		} `json:"condition"`
		WindKph    float64 `json:"wind_kph"`
		Humidity   float64 `json:"humidity"`
		AirQuality *struct {
			USEPAIndex *int `json:"us-epa-index"`
		} `json:"air_quality"`
	} `json:"current"`
	Forecast *struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC          float64 `json:"maxtemp_c"`
				MinTempC          float64 `json:"mintemp_c"`
				DailyChanceOfRain int     `json:"daily_chance_of_rain"`
				Condition         struct {
					Text string `json:"text"`
					Icon string `json:"icon"`
				} `json:"condition"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
	Error *providerError `json:"error"`
}

func providerFailure(status int, body []byte) models.Result {
	var payload struct {
		Error *providerError `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	cause := fmt.Errorf("provider status %d", status)
	if payload.Error == nil {
		kind := models.FailureProvider
		if status == http.StatusNotFound {
			kind = models.FailureNotFound
		}
		return models.Fail(kind, NotFoundMessage, cause)
	}
	return fromProviderError(payload.Error, cause)
}

func fromProviderError(pe *providerError, cause error) models.Result {
	kind := models.FailureProvider
	if pe.Code == codeNoLocation {
		kind = models.FailureNotFound
	}
	msg := strings.TrimSpace(pe.Message)
	if msg == "" {
		msg = NotFoundMessage
	}
	return models.Fail(kind, msg, fmt.Errorf("provider code %d: %w", pe.Code, cause))
}

func decodeForecast(body []byte) models.Result {
	var data forecastResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return models.Fail(models.FailureMalformed, MalformedMessage, fmt.Errorf("unmarshal: %w", err))
	}
	if data.Error != nil {
		return fromProviderError(data.Error, errors.New("error payload with status 200"))
	}
	if data.Location == nil || data.Current == nil {
		return models.Fail(models.FailureMalformed, MalformedMessage, errors.New("response missing location or current"))
	}

	w := &models.Weather{
		Location: models.Location{
			CanonicalName: data.Location.Name,
			Region:        data.Location.Region,
			Country:       data.Location.Country,
			LocalTime:     data.Location.Localtime,
		},
		Current: models.Current{
			TemperatureC:     data.Current.TempC,
			ConditionText:    data.Current.Condition.Text,
			ConditionIconURL: iconURL(data.Current.Condition.Icon),
			WindKph:          data.Current.WindKph,
			HumidityPercent:  data.Current.Humidity,
		},
	}
	if aq := data.Current.AirQuality; aq != nil && aq.USEPAIndex != nil {
		idx := *aq.USEPAIndex
		w.Current.AirQualityIndex = &idx
	}

	if data.Forecast != nil {
		for _, fd := range data.Forecast.ForecastDay {
			w.Forecast = append(w.Forecast, models.ForecastDay{
				Date:             fd.Date,
				MaxTempC:         fd.Day.MaxTempC,
				MinTempC:         fd.Day.MinTempC,
				ConditionText:    fd.Day.Condition.Text,
				ConditionIconURL: iconURL(fd.Day.Condition.Icon),
				ChanceOfRain:     fd.Day.DailyChanceOfRain,
			})
		}
	}

	return models.Success(w)
}

// iconURL turns the provider's protocol-relative icon paths into https URLs.
func iconURL(icon string) string {
	if strings.HasPrefix(icon, "//") {
		return "https:" + icon
	}
	return icon
}
