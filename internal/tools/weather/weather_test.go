package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeBackends(t *testing.T, forecast string) *Adapter {
	t.Helper()

	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("name"); got == "" {
			t.Error("geocode request missing name parameter")
		}
		fmt.Fprint(w, `{"results":[{"name":"Lisbon","latitude":38.7167,"longitude":-9.1333,"country":"Portugal"}]}`)
	}))
	t.Cleanup(geocode.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("latitude"); got != "38.7167" {
			t.Errorf("forecast latitude = %q", got)
		}
		fmt.Fprint(w, forecast)
	}))
	t.Cleanup(api.Close)

	return New(Config{BaseURL: api.URL, GeocodeURL: geocode.URL})
}

func TestExecuteFormatsReport(t *testing.T) {
	adapter := fakeBackends(t, `{"current":{
		"temperature_2m":21.4,"apparent_temperature":20.8,
		"relative_humidity_2m":55,"wind_speed_10m":12.3,
		"precipitation":0,"weather_code":1}}`)

	out, err := adapter.Execute(context.Background(), json.RawMessage(`{"location":"Lisbon"}`))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Lisbon, Portugal", "partly cloudy", "21.4°C", "humidity 55%", "12.3 km/h"} {
		if !strings.Contains(out.Content, want) {
			t.Errorf("report missing %q:\n%s", want, out.Content)
		}
	}
	if strings.Contains(out.Content, "Precipitation") {
		t.Errorf("dry report mentions precipitation:\n%s", out.Content)
	}
}

func TestExecuteImperialUnits(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"results":[{"name":"Portland","latitude":45.5,"longitude":-122.6,"admin1":"Oregon","country":"United States"}]}`)
	}))
	defer geocode.Close()

	var sawFahrenheit bool
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawFahrenheit = r.URL.Query().Get("temperature_unit") == "fahrenheit"
		fmt.Fprint(w, `{"current":{"temperature_2m":68,"apparent_temperature":66,"relative_humidity_2m":40,"wind_speed_10m":5,"precipitation":0,"weather_code":0}}`)
	}))
	defer api.Close()

	adapter := New(Config{BaseURL: api.URL, GeocodeURL: geocode.URL})
	out, err := adapter.Execute(context.Background(), json.RawMessage(`{"location":"Portland","units":"imperial"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !sawFahrenheit {
		t.Error("imperial request did not ask the backend for fahrenheit")
	}
	if !strings.Contains(out.Content, "°F") || !strings.Contains(out.Content, "mph") {
		t.Errorf("imperial units missing from report:\n%s", out.Content)
	}
	if !strings.Contains(out.Content, "Portland, Oregon, United States") {
		t.Errorf("place name not fully qualified:\n%s", out.Content)
	}
}

func TestExecuteUnknownLocation(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer geocode.Close()

	adapter := New(Config{BaseURL: "http://unused.invalid", GeocodeURL: geocode.URL})
	_, err := adapter.Execute(context.Background(), json.RawMessage(`{"location":"Atlantis"}`))
	if err == nil || !strings.Contains(err.Error(), "no match") {
		t.Fatalf("err = %v, want no-match error", err)
	}
}

func TestExecuteEmptyLocation(t *testing.T) {
	adapter := New(Config{})
	if _, err := adapter.Execute(context.Background(), json.RawMessage(`{"location":""}`)); err == nil {
		t.Fatal("expected error on empty location")
	}
}

func TestDescribeWeatherCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "clear sky"},
		{2, "partly cloudy"},
		{3, "overcast"},
		{48, "fog"},
		{53, "drizzle"},
		{63, "rain"},
		{73, "snow"},
		{81, "rain showers"},
		{96, "thunderstorm"},
		{40, "unknown conditions"},
	}
	for _, tt := range tests {
		if got := describeWeatherCode(tt.code); got != tt.want {
			t.Errorf("describeWeatherCode(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
