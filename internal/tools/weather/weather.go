// Package weather implements a current-conditions tool backed by the
// Open-Meteo API. Locations are resolved through Open-Meteo's free
// geocoding endpoint, so no API key is needed.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/infra"
	"github.com/parleyhq/parley/internal/tools"
)

// Name is the tool identifier the model calls.
const Name = "weather"

const (
	defaultBaseURL    = "https://api.open-meteo.com"
	defaultGeocodeURL = "https://geocoding-api.open-meteo.com"
)

// Config holds weather tool settings.
type Config struct {
	// BaseURL overrides the forecast API base. Used in tests.
	BaseURL string

	// GeocodeURL overrides the geocoding API base. Used in tests.
	GeocodeURL string

	// Timeout bounds a single HTTP request. Default 6s.
	Timeout time.Duration
}

// Adapter fetches current conditions for a named location.
type Adapter struct {
	baseURL    string
	geocodeURL string
	client     *http.Client
}

// New creates a weather adapter.
func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = defaultGeocodeURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	return &Adapter{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		geocodeURL: strings.TrimSuffix(cfg.GeocodeURL, "/"),
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Descriptor returns the registration descriptor. The formatted report
// stands on its own, so no synthesis pass is needed.
func Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Get current weather conditions for a city or place name.",
		Synthesis:   tools.SelfContained,
		Category:    tools.CategoryComputational,
		Timeout:     8 * time.Second,
		TTL:         tools.TTLStandard,
		Retry: &infra.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 200 * time.Millisecond,
			Strategy:     infra.BackoffExponential,
		},
	}
}

type weatherParams struct {
	Location string `json:"location"`
	Units    string `json:"units,omitempty"`
}

// Schema returns the JSON schema for weather parameters.
func (a *Adapter) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"location": {
				"type": "string",
				"minLength": 1,
				"description": "City or place name, e.g. \"Lisbon\" or \"Portland, Oregon\""
			},
			"units": {
				"type": "string",
				"enum": ["metric", "imperial"],
				"description": "Unit system (default: metric)"
			}
		},
		"required": ["location"]
	}`)
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
		Admin1    string  `json:"admin1"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature   float64 `json:"temperature_2m"`
		ApparentTemp  float64 `json:"apparent_temperature"`
		Humidity      float64 `json:"relative_humidity_2m"`
		WindSpeed     float64 `json:"wind_speed_10m"`
		Precipitation float64 `json:"precipitation"`
		WeatherCode   int     `json:"weather_code"`
	} `json:"current"`
}

// Execute geocodes the location and fetches current conditions.
func (a *Adapter) Execute(ctx context.Context, args json.RawMessage) (*tools.Output, error) {
	var params weatherParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(params.Location) == "" {
		return nil, fmt.Errorf("location is required")
	}
	imperial := params.Units == "imperial"

	place, lat, lon, err := a.geocode(ctx, params.Location)
	if err != nil {
		return nil, err
	}

	forecast, err := a.current(ctx, lat, lon, imperial)
	if err != nil {
		return nil, err
	}

	tempUnit, speedUnit := "°C", "km/h"
	if imperial {
		tempUnit, speedUnit = "°F", "mph"
	}
	cur := forecast.Current
	report := fmt.Sprintf(
		"Current weather in %s: %s, %.1f%s (feels like %.1f%s), humidity %.0f%%, wind %.1f %s.",
		place, describeWeatherCode(cur.WeatherCode),
		cur.Temperature, tempUnit, cur.ApparentTemp, tempUnit,
		cur.Humidity, cur.WindSpeed, speedUnit,
	)
	if cur.Precipitation > 0 {
		report += fmt.Sprintf(" Precipitation: %.1f mm.", cur.Precipitation)
	}
	return &tools.Output{Content: report}, nil
}

func (a *Adapter) geocode(ctx context.Context, location string) (name string, lat, lon float64, err error) {
	q := url.Values{}
	q.Set("name", location)
	q.Set("count", "1")

	var decoded geocodeResponse
	if err := a.getJSON(ctx, a.geocodeURL+"/v1/search?"+q.Encode(), &decoded); err != nil {
		return "", 0, 0, fmt.Errorf("geocoding failed: %w", err)
	}
	if len(decoded.Results) == 0 {
		return "", 0, 0, fmt.Errorf("invalid location: no match for %q", location)
	}

	hit := decoded.Results[0]
	name = hit.Name
	if hit.Admin1 != "" && hit.Admin1 != hit.Name {
		name += ", " + hit.Admin1
	}
	if hit.Country != "" {
		name += ", " + hit.Country
	}
	return name, hit.Latitude, hit.Longitude, nil
}

func (a *Adapter) current(ctx context.Context, lat, lon float64, imperial bool) (*forecastResponse, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,wind_speed_10m,precipitation,weather_code")
	if imperial {
		q.Set("temperature_unit", "fahrenheit")
		q.Set("wind_speed_unit", "mph")
	}

	var decoded forecastResponse
	if err := a.getJSON(ctx, a.baseURL+"/v1/forecast?"+q.Encode(), &decoded); err != nil {
		return nil, fmt.Errorf("forecast failed: %w", err)
	}
	return &decoded, nil
}

func (a *Adapter) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// describeWeatherCode maps WMO weather codes to short phrases.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown conditions"
	}
}
