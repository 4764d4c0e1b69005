package controller

import (
	"bathguard/internal/models"
	"bathguard/internal/psychro"
	"time"
)

// HistorySize is the number of humidity samples kept for rate of change detection
const HistorySize = 10

// HumiditySample is one entry of the humidity history
type HumiditySample struct {
	At       time.Time `json:"at"`
	Humidity float64   `json:"humidity"`
}

// AutomationState is everything the controller remembers between ticks
type AutomationState struct {
	ShowerDetected      bool             `json:"shower_detected"`
	DehumidifierRunning bool             `json:"dehumidifier_running"`
	HumidityHistory     []HumiditySample `json:"humidity_history"`
	HumidityBelowSince  *time.Time       `json:"humidity_below_threshold_since,omitempty"`
	CurrentEventID      *int64           `json:"current_event_id,omitempty"`
	EventStartTime      *time.Time       `json:"event_start_time,omitempty"`

	LastMotion     *time.Time             `json:"last_motion,omitempty"`
	HeaterSetpoint *float64               `json:"heater_setpoint,omitempty"`
	AlertActive    bool                   `json:"alert_active"`
	Synced         bool                   `json:"synced"`
	LastReading    *models.Reading        `json:"last_reading,omitempty"`
	LastRisk       *models.RiskAssessment `json:"last_risk,omitempty"`

	event *eventStats
}

// clone returns a deep copy safe to hand out or carry into a new controller
func (s *AutomationState) clone() AutomationState {
	cp := *s
	cp.HumidityHistory = append([]HumiditySample(nil), s.HumidityHistory...)
	cp.HumidityBelowSince = copyTime(s.HumidityBelowSince)
	cp.EventStartTime = copyTime(s.EventStartTime)
	cp.LastMotion = copyTime(s.LastMotion)
	if s.CurrentEventID != nil {
		id := *s.CurrentEventID
		cp.CurrentEventID = &id
	}
	if s.HeaterSetpoint != nil {
		cp.HeaterSetpoint = models.Float(*s.HeaterSetpoint)
	}
	if s.LastReading != nil {
		r := *s.LastReading
		cp.LastReading = &r
	}
	if s.LastRisk != nil {
		r := *s.LastRisk
		r.Recommendations = append([]string(nil), s.LastRisk.Recommendations...)
		cp.LastRisk = &r
	}
	if s.event != nil {
		e := *s.event
		cp.event = &e
	}
	return cp
}

// recordHumidity appends a sample, replacing the newest one when the timestamp repeats
func (s *AutomationState) recordHumidity(at time.Time, humidity float64) {
	sample := HumiditySample{At: at, Humidity: humidity}
	if n := len(s.HumidityHistory); n > 0 && s.HumidityHistory[n-1].At.Equal(at) {
		s.HumidityHistory[n-1] = sample
		return
	}
	s.HumidityHistory = append(s.HumidityHistory, sample)
	if len(s.HumidityHistory) > HistorySize {
		s.HumidityHistory = s.HumidityHistory[len(s.HumidityHistory)-HistorySize:]
	}
}

// resetEvent returns the state machine to idle
func (s *AutomationState) resetEvent() {
	s.ShowerDetected = false
	s.CurrentEventID = nil
	s.EventStartTime = nil
	s.event = nil
}

// eventStats accumulates the summary of an open event
type eventStats struct {
	start         time.Time
	startHumidity float64
	peakHumidity  float64
	sumHumidity   float64
	samples       int
	sumTemp       float64
	tempSamples   int
	motion        bool
	doorClosed    bool
	runtime       time.Duration
	lastAt        time.Time
}

func newEventStats(r models.Reading, humidity float64) *eventStats {
	return &eventStats{
		start:         r.Timestamp,
		startHumidity: humidity,
		peakHumidity:  humidity,
	}
}

// add folds one tick into the stats. A repeated timestamp is ignored.
func (e *eventStats) add(r models.Reading, humidity float64, dehumidifierRunning bool) {
	if e.samples > 0 && !r.Timestamp.After(e.lastAt) {
		return
	}
	if e.samples > 0 && dehumidifierRunning {
		e.runtime += r.Timestamp.Sub(e.lastAt)
	}

	e.samples++
	e.sumHumidity += humidity
	if humidity > e.peakHumidity {
		e.peakHumidity = humidity
	}
	if r.Temperature != nil {
		e.sumTemp += *r.Temperature
		e.tempSamples++
	}
	e.motion = e.motion || r.Motion
	e.doorClosed = e.doorClosed || r.DoorClosed
	e.lastAt = r.Timestamp
}

// toEvent builds the persisted record; end is nil while the event is open
func (e *eventStats) toEvent(automation string, end *time.Time, endHumidity *float64) *models.Event {
	event := &models.Event{
		Automation:                 automation,
		StartTime:                  e.start,
		EndTime:                    end,
		StartHumidity:              e.startHumidity,
		PeakHumidity:               e.peakHumidity,
		AvgHumidity:                e.startHumidity,
		EndHumidity:                endHumidity,
		DehumidifierRuntimeMinutes: psychro.Round(e.runtime.Minutes()),
		MotionDetected:             e.motion,
		DoorClosed:                 e.doorClosed,
	}
	if e.samples > 0 {
		event.AvgHumidity = psychro.Round(e.sumHumidity / float64(e.samples))
	}
	if e.tempSamples > 0 {
		event.AvgTemperature = models.Float(psychro.Round(e.sumTemp / float64(e.tempSamples)))
	}
	return event
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
