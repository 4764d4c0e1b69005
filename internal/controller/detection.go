package controller

import (
	"bathguard/internal/models"
	"time"
)

const (
	earlyDetectionOffset = 5.0 // percentage points below humidity_high
	riseRateThreshold    = 2.0 // %/minute
	motionOnlyHumidity   = 60.0
	minRateInterval      = time.Minute
)

// detection is the outcome of the shower criteria for one tick
type detection struct {
	nearHigh     bool // A
	rising       bool // B
	recentMotion bool // C
	detected     bool
	rate         float64
}

// detectShower evaluates the criteria against the history, which must already
// contain the current sample
func detectShower(cfg models.AutomationConfig, st *AutomationState, r models.Reading, humidity float64) detection {
	rate, ok := riseRate(st.HumidityHistory)
	d := detection{
		nearHigh:     humidity > cfg.HumidityHigh-earlyDetectionOffset,
		rising:       ok && rate > riseRateThreshold,
		recentMotion: motionRecent(cfg, st.LastMotion, r.Timestamp),
		rate:         rate,
	}

	aboveHigh := humidity > cfg.HumidityHigh
	d.detected = (d.nearHigh && (d.rising || r.Motion) && d.recentMotion) ||
		(aboveHigh && d.recentMotion) ||
		(d.rising && r.Motion && humidity > motionOnlyHumidity)
	return d
}

// riseRate compares the newest sample with the one three ticks back, or two
// when the history is shorter. Samples less than a minute apart give no rate.
func riseRate(history []HumiditySample) (float64, bool) {
	n := len(history)
	var past HumiditySample
	switch {
	case n >= 4:
		past = history[n-4]
	case n >= 3:
		past = history[n-3]
	default:
		return 0, false
	}

	current := history[n-1]
	elapsed := current.At.Sub(past.At)
	if elapsed < minRateInterval {
		return 0, false
	}
	return (current.Humidity - past.Humidity) / elapsed.Minutes(), true
}

// motionRecent is vacuously true without a motion sensor
func motionRecent(cfg models.AutomationConfig, lastMotion *time.Time, now time.Time) bool {
	if cfg.MotionSensorID == "" {
		return true
	}
	if lastMotion == nil {
		return false
	}
	window := time.Duration(cfg.MotionWindowMinutes * float64(time.Minute))
	return now.Sub(*lastMotion) <= window
}
