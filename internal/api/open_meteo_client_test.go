package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewOpenMeteoClient(t *testing.T) {
	client := NewOpenMeteoClient()
	if client == nil {
		t.Fatal("NewOpenMeteoClient() returned nil")
	}

	if client.client == nil {
		t.Error("OpenMeteoClient.client should not be nil")
	}
	if client.baseURL != baseURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, baseURL)
	}
}

func TestBuildURL(t *testing.T) {
	client := NewOpenMeteoClient()

	tests := []struct {
		name   string
		params ForecastParams
		want   string
	}{
		{
			name: "basic current weather",
			params: ForecastParams{
				Latitude:      37.7749,
				Longitude:     -122.4194,
				CurrentFields: []string{"temperature_2m", "relative_humidity_2m"},
			},
			want: "https://api.open-meteo.com/v1/forecast?latitude=37.7749&longitude=-122.4194&timezone=auto&temperature_unit=celsius&forecast_days=1&current=temperature_2m,relative_humidity_2m",
		},
		{
			name: "custom timezone and temperature unit",
			params: ForecastParams{
				Latitude:        51.5074,
				Longitude:       -0.1278,
				CurrentFields:   []string{"temperature_2m"},
				Timezone:        "Europe/London",
				TemperatureUnit: "fahrenheit",
			},
			want: "https://api.open-meteo.com/v1/forecast?latitude=51.5074&longitude=-0.1278&timezone=Europe/London&temperature_unit=fahrenheit&forecast_days=1&current=temperature_2m",
		},
		{
			name: "no fields",
			params: ForecastParams{
				Latitude:  52.52,
				Longitude: 13.41,
			},
			want: "https://api.open-meteo.com/v1/forecast?latitude=52.5200&longitude=13.4100&timezone=auto&temperature_unit=celsius&forecast_days=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.BuildURL(tt.params)
			if got != tt.want {
				t.Errorf("BuildURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildURL_NegativeCoordinates(t *testing.T) {
	client := NewOpenMeteoClient()

	url := client.BuildURL(ForecastParams{
		Latitude:      -33.8688,
		Longitude:     151.2093,
		CurrentFields: []string{"temperature_2m"},
	})

	if !strings.Contains(url, "latitude=-33.8688") {
		t.Error("BuildURL() should handle negative latitude")
	}
	if !strings.Contains(url, "longitude=151.2093") {
		t.Error("BuildURL() should handle positive longitude")
	}
}

func TestGetCurrentWeather_NoFields(t *testing.T) {
	client := NewOpenMeteoClient()

	_, err := client.GetCurrentWeather(context.Background(), 37.7749, -122.4194, []string{})
	if err == nil {
		t.Fatal("GetCurrentWeather() expected error for empty fields, got nil")
	}

	expectedMsg := "GetCurrentWeather: no weather fields provided"
	if err.Error() != expectedMsg {
		t.Errorf("GetCurrentWeather() error = %v, want %v", err.Error(), expectedMsg)
	}
}

func newTestClient(handler http.HandlerFunc) (*OpenMeteoClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewOpenMeteoClient()
	client.baseURL = server.URL
	client.client = server.Client()
	return client, server
}

func TestGetOutdoorConditions(t *testing.T) {
	var gotQuery string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"latitude": 52.52,
			"longitude": 13.41,
			"timezone": "Europe/Berlin",
			"current": {
				"time": "2024-03-01T07:00",
				"interval": 900,
				"temperature_2m": 5.0,
				"relative_humidity_2m": 70,
				"precipitation": 0.0
			}
		}`))
	})
	defer server.Close()

	got, err := client.GetOutdoorConditions(context.Background(), 52.52, 13.41)
	if err != nil {
		t.Fatalf("GetOutdoorConditions() error = %v", err)
	}

	if got.Temperature != 5 || got.Humidity != 70 {
		t.Errorf("GetOutdoorConditions() = %+v, want 5°C / 70%%", got)
	}
	if got.ObservedAt.Hour() != 7 {
		t.Errorf("ObservedAt = %v, want 07:00", got.ObservedAt)
	}
	if !strings.Contains(gotQuery, "current=temperature_2m,relative_humidity_2m,precipitation") {
		t.Errorf("query %q should request outdoor fields", gotQuery)
	}
	if !strings.Contains(gotQuery, "temperature_unit=celsius") {
		t.Errorf("query %q should request celsius", gotQuery)
	}
}

func TestGetOutdoorConditions_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"api error", http.StatusBadRequest, `{"error": true, "reason": "bad latitude"}`, "API error: status 400"},
		{"invalid json", http.StatusOK, `not json`, "failed to decode response"},
		{"missing humidity", http.StatusOK, `{"current": {"time": "2024-03-01T07:00", "temperature_2m": 5.0}}`, "missing temperature or humidity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			defer server.Close()

			_, err := client.GetOutdoorConditions(context.Background(), 52.52, 13.41)
			if err == nil {
				t.Fatal("GetOutdoorConditions() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}
