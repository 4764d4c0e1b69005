package api

import (
	"bathguard/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const baseURL = "https://api.open-meteo.com/v1/forecast"

// outdoorFields are the current values the ventilation advisor needs
var outdoorFields = []string{"temperature_2m", "relative_humidity_2m", "precipitation"}

// OpenMeteoClient is a client for the Open-Meteo API
type OpenMeteoClient struct {
	client  *http.Client
	baseURL string
}

type ForecastParams struct {
	Latitude        float64
	Longitude       float64
	CurrentFields   []string
	Timezone        string
	TemperatureUnit string
}

// NewOpenMeteoClient creates a new Open-Meteo API client
func NewOpenMeteoClient() *OpenMeteoClient {
	return &OpenMeteoClient{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
}

// GetForecast fetches current conditions for the given coordinates
func (c *OpenMeteoClient) GetForecast(ctx context.Context, forecastParams ForecastParams) (*Forecast, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL(forecastParams), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var forecast Forecast
	if err := json.NewDecoder(resp.Body).Decode(&forecast); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &forecast, nil
}

// Builds URL for OpenMeteoClient request
func (c *OpenMeteoClient) BuildURL(forecastParams ForecastParams) string {
	if forecastParams.Timezone == "" {
		forecastParams.Timezone = "auto"
	}

	if forecastParams.TemperatureUnit == "" {
		forecastParams.TemperatureUnit = "celsius"
	}

	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&timezone=%s&temperature_unit=%s&forecast_days=1",
		c.baseURL, forecastParams.Latitude, forecastParams.Longitude, forecastParams.Timezone, forecastParams.TemperatureUnit)

	if len(forecastParams.CurrentFields) > 0 {
		url += "&current=" + strings.Join(forecastParams.CurrentFields, ",")
	}

	return url
}

func (c *OpenMeteoClient) GetCurrentWeather(ctx context.Context, lat, long float64, fields []string) (*Forecast, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("GetCurrentWeather: no weather fields provided")
	}

	return c.GetForecast(ctx, ForecastParams{
		Latitude:      lat,
		Longitude:     long,
		CurrentFields: fields,
	})
}

// GetOutdoorConditions returns the current outdoor temperature (°C) and relative humidity
func (c *OpenMeteoClient) GetOutdoorConditions(ctx context.Context, lat, long float64) (*models.OutdoorConditions, error) {
	forecast, err := c.GetCurrentWeather(ctx, lat, long, outdoorFields)
	if err != nil {
		return nil, err
	}

	cur := forecast.Current
	if cur.Temperature2m == nil || cur.RelativeHumidity2m == nil {
		return nil, fmt.Errorf("forecast for %.4f,%.4f is missing temperature or humidity", lat, long)
	}

	observed, err := time.Parse("2006-01-02T15:04", cur.Time)
	if err != nil {
		observed = time.Now()
	}

	return &models.OutdoorConditions{
		Temperature:   *cur.Temperature2m,
		Humidity:      *cur.RelativeHumidity2m,
		Precipitation: cur.Precipitation,
		ObservedAt:    observed,
	}, nil
}
