package platform

import (
	"bathguard/internal/metrics"
	"bathguard/internal/models"
	"context"
	"errors"
	"log"
	"time"
)

var (
	ErrNoState    = errors.New("no state received for device")
	ErrStaleState = errors.New("device state is stale")
)

// SensorState is the last known state of a device. Every field is optional
// because devices only report the capabilities they have.
type SensorState struct {
	Humidity    *float64  `json:"humidity,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Motion      *bool     `json:"occupancy,omitempty"`
	Contact     *bool     `json:"contact,omitempty"` // true when the contact is closed
	Switch      *bool     `json:"switch,omitempty"`
	Setpoint    *float64  `json:"setpoint,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Platform is the smart-home capability the controller drives
type Platform interface {
	GetState(ctx context.Context, deviceID string) (*SensorState, error)
	TurnOn(ctx context.Context, deviceID string) bool
	TurnOff(ctx context.Context, deviceID string) bool
	SetTemperature(ctx context.Context, deviceID string, celsius float64) bool
}

// Collect reads every sensor configured for an automation into one Reading.
// A sensor that fails or times out leaves its field empty.
func Collect(ctx context.Context, p Platform, cfg models.AutomationConfig, timeout time.Duration, now time.Time) models.Reading {
	reading := models.Reading{Timestamp: now}
	states := make(map[string]*SensorState)

	read := func(deviceID, sensor string) *SensorState {
		if deviceID == "" {
			return nil
		}
		if st, ok := states[deviceID]; ok {
			return st
		}

		readCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		st, err := p.GetState(readCtx, deviceID)
		if err != nil {
			log.Printf("[%s] Failed to read %s sensor %s: %v", cfg.Name, sensor, deviceID, err)
			metrics.RecordSensorReadFailure(cfg.Name, sensor)
			st = nil
		}
		states[deviceID] = st
		return st
	}

	if st := read(cfg.HumiditySensorID, "humidity"); st != nil {
		reading.Humidity = st.Humidity
		reading.Temperature = st.Temperature
	}

	if cfg.TemperatureSensorID != "" && cfg.TemperatureSensorID != cfg.HumiditySensorID {
		reading.Temperature = nil
		if st := read(cfg.TemperatureSensorID, "temperature"); st != nil {
			reading.Temperature = st.Temperature
		}
	}

	if st := read(cfg.MotionSensorID, "motion"); st != nil && st.Motion != nil {
		reading.Motion = *st.Motion
	}

	if st := read(cfg.DoorSensorID, "door"); st != nil && st.Contact != nil {
		reading.DoorClosed = *st.Contact
	}

	if st := read(cfg.WindowSensorID, "window"); st != nil && st.Contact != nil {
		reading.WindowOpen = !*st.Contact
	}

	return reading
}
