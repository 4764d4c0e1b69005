package models

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidThresholds = errors.New("humidity_low must be below humidity_high")
	ErrMissingDevice     = errors.New("missing device id")
)

// Reading is one tick worth of sensor values for a bathroom.
// Humidity and Temperature are nil when the sensor could not be read.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Motion      bool      `json:"motion"`
	DoorClosed  bool      `json:"door_closed"`
	WindowOpen  bool      `json:"window_open"`
}

// Float returns a pointer to v, handy for building readings.
func Float(v float64) *float64 {
	return &v
}

// AutomationConfig - one bathroom's thresholds and device wiring
type AutomationConfig struct {
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`

	HumidityHigh             float64 `yaml:"humidity_high" json:"humidity_high"`
	HumidityLow              float64 `yaml:"humidity_low" json:"humidity_low"`
	TargetTemperature        float64 `yaml:"target_temperature" json:"target_temperature"`
	HeatingBoostEnabled      bool    `yaml:"heating_boost_enabled" json:"heating_boost_enabled"`
	HeatingBoostDelta        float64 `yaml:"heating_boost_delta" json:"heating_boost_delta"`
	FrostProtectionTemp      float64 `yaml:"frost_protection_temp" json:"frost_protection_temp"`
	DehumidifierDelayMinutes float64 `yaml:"dehumidifier_delay_minutes" json:"dehumidifier_delay_minutes"`
	MotionWindowMinutes      float64 `yaml:"motion_window_minutes" json:"motion_window_minutes"`

	HumiditySensorID    string `yaml:"humidity_sensor" json:"humidity_sensor"`
	TemperatureSensorID string `yaml:"temperature_sensor" json:"temperature_sensor"`
	MotionSensorID      string `yaml:"motion_sensor" json:"motion_sensor,omitempty"`
	DoorSensorID        string `yaml:"door_sensor" json:"door_sensor,omitempty"`
	WindowSensorID      string `yaml:"window_sensor" json:"window_sensor,omitempty"`
	DehumidifierID      string `yaml:"dehumidifier" json:"dehumidifier"`
	HeaterID            string `yaml:"heater" json:"heater,omitempty"`

	// Location names the outdoor weather location used for ventilation advice
	Location string `yaml:"location" json:"location,omitempty"`
}

// DefaultAutomationConfig returns the stock thresholds used when a field is left unset.
func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		Enabled:                  true,
		HumidityHigh:             70,
		HumidityLow:              60,
		TargetTemperature:        21,
		HeatingBoostDelta:        1,
		FrostProtectionTemp:      12,
		DehumidifierDelayMinutes: 5,
		MotionWindowMinutes:      30,
	}
}

// UnmarshalYAML fills unset fields from DefaultAutomationConfig
func (c *AutomationConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain AutomationConfig
	p := plain(DefaultAutomationConfig())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = AutomationConfig(p)
	return nil
}

// Validate checks the invariants the controller relies on
func (c AutomationConfig) Validate() error {
	if c.HumidityLow >= c.HumidityHigh {
		return fmt.Errorf("%w (low=%.1f, high=%.1f)", ErrInvalidThresholds, c.HumidityLow, c.HumidityHigh)
	}
	if c.HumidityHigh > 100 || c.HumidityLow < 0 {
		return fmt.Errorf("humidity thresholds out of range (low=%.1f, high=%.1f)", c.HumidityLow, c.HumidityHigh)
	}
	if c.DehumidifierID == "" {
		return fmt.Errorf("%w: dehumidifier", ErrMissingDevice)
	}
	if c.HumiditySensorID == "" {
		return fmt.Errorf("%w: humidity_sensor", ErrMissingDevice)
	}
	if c.HeatingBoostEnabled && c.HeaterID == "" {
		return fmt.Errorf("%w: heater (heating boost enabled)", ErrMissingDevice)
	}
	if c.DehumidifierDelayMinutes < 0 {
		return fmt.Errorf("dehumidifier_delay_minutes cannot be negative")
	}
	return nil
}

// WithThresholds returns a copy with new humidity thresholds.
func (c AutomationConfig) WithThresholds(high, low float64) AutomationConfig {
	c.HumidityHigh = high
	c.HumidityLow = low
	return c
}

// Event is one detected shower / high humidity episode
type Event struct {
	ID                         int64      `json:"id"`
	Automation                 string     `json:"automation"`
	StartTime                  time.Time  `json:"start_time"`
	EndTime                    *time.Time `json:"end_time,omitempty"`
	StartHumidity              float64    `json:"start_humidity"`
	PeakHumidity               float64    `json:"peak_humidity"`
	AvgHumidity                float64    `json:"avg_humidity"`
	EndHumidity                *float64   `json:"end_humidity,omitempty"`
	AvgTemperature             *float64   `json:"avg_temperature,omitempty"`
	DehumidifierRuntimeMinutes float64    `json:"dehumidifier_runtime_minutes"`
	MotionDetected             bool       `json:"motion_detected"`
	DoorClosed                 bool       `json:"door_closed"`
}

// Closed reports whether the event has been finalized
func (e Event) Closed() bool {
	return e.EndTime != nil
}

type ActionType string

const (
	ActionTurnOn         ActionType = "turn_on"
	ActionTurnOff        ActionType = "turn_off"
	ActionSetTemperature ActionType = "set_temperature"
)

// Action is an actuator command produced by a control tick
type Action struct {
	DeviceID    string     `json:"device_id"`
	Type        ActionType `json:"action"`
	Temperature *float64   `json:"temperature,omitempty"`
	Reason      string     `json:"reason"`
}

func (a Action) String() string {
	if a.Temperature != nil {
		return fmt.Sprintf("%s %s %.1f°C (%s)", a.Type, a.DeviceID, *a.Temperature, a.Reason)
	}
	return fmt.Sprintf("%s %s (%s)", a.Type, a.DeviceID, a.Reason)
}

// ActionResult is the outcome of sending an Action to the platform
type ActionResult struct {
	Action  Action `json:"action"`
	Success bool   `json:"success"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Elevated is true for HIGH and CRITICAL
func (r RiskLevel) Elevated() bool {
	return r == RiskHigh || r == RiskCritical
}

type HumidityLevel string

const (
	HumidityCritical HumidityLevel = "CRITICAL"
	HumidityWarning  HumidityLevel = "WARNING"
	HumidityOptimal  HumidityLevel = "OPTIMAL"
	HumidityLow      HumidityLevel = "LOW"
	HumidityTooDry   HumidityLevel = "TOO_DRY"
)

// RiskAssessment represents condensation / mold risk for the current readings
type RiskAssessment struct {
	Temperature          float64       `json:"temperature"`
	Humidity             float64       `json:"humidity"`
	SurfaceTemperature   float64       `json:"surface_temperature"`
	Dewpoint             float64       `json:"dewpoint"`
	AbsoluteHumidity     float64       `json:"absolute_humidity"`
	DewpointMargin       float64       `json:"dewpoint_margin"`
	RiskLevel            RiskLevel     `json:"risk_level"`
	RiskScore            float64       `json:"risk_score"`
	HumidityLevel        HumidityLevel `json:"humidity_level"`
	CondensationPossible bool          `json:"condensation_possible"`
	AlertRequired        bool          `json:"alert_required"`
	Recommendations      []string      `json:"recommendations"`
}

// VentilationRecommendation says whether opening a window helps right now
type VentilationRecommendation struct {
	IsBeneficial               bool     `json:"is_beneficial"`
	IndoorAbsoluteHumidity     float64  `json:"indoor_absolute_humidity"`
	OutdoorAbsoluteHumidity    float64  `json:"outdoor_absolute_humidity"`
	AbsHumidityDiff            float64  `json:"abs_humidity_diff"`
	RecommendedDurationMinutes int      `json:"recommended_duration_minutes"`
	Reason                     string   `json:"reason"`
	Warnings                   []string `json:"warnings"`
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// VentilationPriority combines ventilation and mold risk into one recommendation
type VentilationPriority struct {
	Priority Priority `json:"priority"`
	Action   string   `json:"action"`
}

// LearnedThresholds is a threshold proposal from historical events
type LearnedThresholds struct {
	Automation   string    `json:"automation"`
	HumidityHigh float64   `json:"humidity_high"`
	HumidityLow  float64   `json:"humidity_low"`
	Confidence   float64   `json:"confidence"` // 0-1
	SamplesUsed  int       `json:"samples_used"`
	Reason       string    `json:"reason"`
	LearnedAt    time.Time `json:"learned_at"`
}

// MoldAlert is persisted when a tick first requires an alert
type MoldAlert struct {
	ID          int64     `json:"id"`
	Automation  string    `json:"automation"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Dewpoint    float64   `json:"dewpoint"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskScore   float64   `json:"risk_score"`
	Message     string    `json:"message"`
}

// Thresholds is the humidity pair reported in status output
type Thresholds struct {
	HumidityHigh float64 `json:"humidity_high"`
	HumidityLow  float64 `json:"humidity_low"`
}

// Status is the controller snapshot exposed to the dashboard
type Status struct {
	Automation               string     `json:"automation"`
	Enabled                  bool       `json:"enabled"`
	ShowerDetected           bool       `json:"shower_detected"`
	DehumidifierRunning      bool       `json:"dehumidifier_running"`
	CurrentHumidity          *float64   `json:"current_humidity,omitempty"`
	CurrentTemperature       *float64   `json:"current_temperature,omitempty"`
	Thresholds               Thresholds `json:"thresholds"`
	ShutdownCountdownSeconds *float64   `json:"shutdown_countdown_seconds,omitempty"`
	CurrentEventID           *int64     `json:"current_event_id,omitempty"`
	RiskLevel                RiskLevel  `json:"risk_level,omitempty"`
	LastUpdate               time.Time  `json:"last_update"`
}

// TickRecord is the outcome of one control tick, published on the tick stream
type TickRecord struct {
	ID                  string                     `json:"id"`
	Automation          string                     `json:"automation"`
	Reading             Reading                    `json:"reading"`
	Actions             []ActionResult             `json:"actions,omitempty"`
	ShowerDetected      bool                       `json:"shower_detected"`
	DehumidifierRunning bool                       `json:"dehumidifier_running"`
	Dewpoint            *float64                   `json:"dewpoint,omitempty"`
	RiskLevel           RiskLevel                  `json:"risk_level,omitempty"`
	RiskScore           *float64                   `json:"risk_score,omitempty"`
	Ventilation         *VentilationRecommendation `json:"ventilation,omitempty"`
	Priority            *VentilationPriority       `json:"priority,omitempty"`
}

// OutdoorConditions is the current weather used for ventilation advice
type OutdoorConditions struct {
	Location      string    `json:"location"`
	Temperature   float64   `json:"temperature"`
	Humidity      float64   `json:"humidity"`
	Precipitation *float64  `json:"precipitation,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
}
