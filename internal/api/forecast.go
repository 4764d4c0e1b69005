package api

// Forecast represents the subset of the Open-Meteo response used for ventilation advice
type Forecast struct {
	Latitude         float64      `json:"latitude"`
	Longitude        float64      `json:"longitude"`
	Timezone         string       `json:"timezone"`
	CurrentUnits     CurrentUnits `json:"current_units"`
	Current          Current      `json:"current"`
	GenerationTimeMs float64      `json:"generation_time_ms"`
}

type CurrentUnits struct {
	Time               string `json:"time"`
	Interval           string `json:"interval"`
	Temperature2m      string `json:"temperature_2m"`
	RelativeHumidity2m string `json:"relative_humidity_2m"`
	Precipitation      string `json:"precipitation"`
}

type Current struct {
	Time               string   `json:"time"`
	Interval           int      `json:"interval"`
	Temperature2m      *float64 `json:"temperature_2m"`
	RelativeHumidity2m *float64 `json:"relative_humidity_2m"`
	Precipitation      *float64 `json:"precipitation"`
}
