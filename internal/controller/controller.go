// Package controller runs the per-bathroom climate state machine: shower
// detection, dehumidifier hysteresis, heater boost and the window-open override.
package controller

import (
	"bathguard/internal/advisor"
	"bathguard/internal/learner"
	"bathguard/internal/metrics"
	"bathguard/internal/models"
	"bathguard/internal/platform"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

const (
	heaterDeadband = 0.5 // °C
	frostMargin    = 0.5 // °C above frost protection before the window override lowers the heater
)

var ErrNoPlatform = errors.New("controller requires a platform")

// EventStore persists shower events and mold alerts
type EventStore interface {
	OpenEvent(ctx context.Context, event *models.Event) (int64, error)
	CloseEvent(ctx context.Context, event *models.Event) error
	RecordAlert(ctx context.Context, alert *models.MoldAlert) error
}

// Controller owns one automation's state. Process and Execute are called by a
// single tick loop; GetStatus and State may be called from other goroutines.
type Controller struct {
	platform platform.Platform
	store    EventStore
	assessor *advisor.MoldRiskAssessor
	advisor  *advisor.VentilationAdvisor
	learner  *learner.ThresholdLearner
	now      func() time.Time

	mu    sync.RWMutex
	cfg   models.AutomationConfig
	state AutomationState
}

// New validates cfg and creates an idle controller. store may be nil, in which
// case events and alerts are tracked in memory only.
func New(cfg models.AutomationConfig, p platform.Platform, store EventStore) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid automation %q: %w", cfg.Name, err)
	}
	if p == nil {
		return nil, ErrNoPlatform
	}

	return &Controller{
		platform: p,
		store:    store,
		assessor: advisor.NewMoldRiskAssessor(),
		advisor:  advisor.NewVentilationAdvisor(),
		learner:  learner.NewThresholdLearner(),
		now:      time.Now,
		cfg:      cfg,
	}, nil
}

// TransferState builds a controller for cfg and carries over prev's state when
// the humidity sensor and dehumidifier are unchanged; otherwise it starts idle.
func TransferState(prev *Controller, cfg models.AutomationConfig) (*Controller, error) {
	next, err := New(cfg, prev.platform, prev.store)
	if err != nil {
		return nil, err
	}
	next.now = prev.now

	prev.mu.RLock()
	defer prev.mu.RUnlock()

	if prev.cfg.HumiditySensorID != cfg.HumiditySensorID || prev.cfg.DehumidifierID != cfg.DehumidifierID {
		log.Printf("[%s] Devices changed, starting with fresh state", cfg.Name)
		return next, nil
	}

	next.state = prev.state.clone()
	if prev.cfg.HeaterID != cfg.HeaterID {
		next.state.HeaterSetpoint = nil
		next.state.Synced = false
	}
	log.Printf("[%s] ✓ State carried over (shower_detected=%v, dehumidifier_running=%v)",
		cfg.Name, next.state.ShowerDetected, next.state.DehumidifierRunning)
	return next, nil
}

// Name returns the automation name
func (c *Controller) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Name
}

// Config returns the active configuration
func (c *Controller) Config() models.AutomationConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// State returns a copy of the current automation state
func (c *Controller) State() AutomationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// ReloadConfig replaces the configuration. An invalid config is rejected and the
// previous one stays active.
func (c *Controller) ReloadConfig(cfg models.AutomationConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("rejected config for %q: %w", cfg.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.DehumidifierID != c.cfg.DehumidifierID || cfg.HeaterID != c.cfg.HeaterID {
		c.state.Synced = false
		c.state.HeaterSetpoint = nil
	}
	c.cfg = cfg
	log.Printf("[%s] ✓ Config reloaded (high=%.1f%%, low=%.1f%%)", cfg.Name, cfg.HumidityHigh, cfg.HumidityLow)
	return nil
}

// ApplyLearned swaps in learned thresholds when the proposal meets minConfidence.
// It reports whether the thresholds were applied.
func (c *Controller) ApplyLearned(lt *models.LearnedThresholds, minConfidence float64) (bool, error) {
	if lt == nil || lt.Confidence < minConfidence {
		return false, nil
	}
	cfg := c.Config().WithThresholds(lt.HumidityHigh, lt.HumidityLow)
	if err := c.ReloadConfig(cfg); err != nil {
		return false, err
	}
	return true, nil
}

// SuggestThresholds proposes thresholds for this automation from past events
func (c *Controller) SuggestThresholds(events []models.Event, minConfidence float64) *models.LearnedThresholds {
	return c.learner.SuggestThresholds(c.Name(), events, minConfidence)
}

// AssessRisk runs the mold risk assessment for arbitrary readings
func (c *Controller) AssessRisk(temp, humidity float64, surfaceTemp *float64) (*models.RiskAssessment, error) {
	return c.assessor.Assess(temp, humidity, surfaceTemp)
}

// RecommendVentilation compares indoor and outdoor air
func (c *Controller) RecommendVentilation(indoorTemp, indoorHumidity, outdoorTemp, outdoorHumidity float64) (*models.VentilationRecommendation, error) {
	return c.advisor.Recommend(indoorTemp, indoorHumidity, outdoorTemp, outdoorHumidity)
}

// GetStatus returns the dashboard snapshot
func (c *Controller) GetStatus() models.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := models.Status{
		Automation:          c.cfg.Name,
		Enabled:             c.cfg.Enabled,
		ShowerDetected:      c.state.ShowerDetected,
		DehumidifierRunning: c.state.DehumidifierRunning,
		Thresholds: models.Thresholds{
			HumidityHigh: c.cfg.HumidityHigh,
			HumidityLow:  c.cfg.HumidityLow,
		},
	}

	if r := c.state.LastReading; r != nil {
		status.CurrentHumidity = r.Humidity
		status.CurrentTemperature = r.Temperature
		status.LastUpdate = r.Timestamp
	}
	if c.state.LastRisk != nil {
		status.RiskLevel = c.state.LastRisk.RiskLevel
	}
	if c.state.CurrentEventID != nil {
		id := *c.state.CurrentEventID
		status.CurrentEventID = &id
	}
	if c.state.DehumidifierRunning && c.state.HumidityBelowSince != nil {
		remaining := c.delay() - c.now().Sub(*c.state.HumidityBelowSince)
		if remaining < 0 {
			remaining = 0
		}
		status.ShutdownCountdownSeconds = models.Float(remaining.Seconds())
	}
	return status
}

// Process evaluates one tick and returns the actuator commands it calls for.
// Commands are not sent; pass them to Execute. Calling Process again with the
// same reading returns the same commands. Platform reads and store writes run
// outside the state lock, so GetStatus never waits on them.
func (c *Controller) Process(ctx context.Context, r models.Reading) []models.Action {
	if c.needsSync() {
		c.syncDevices(ctx, r)
	}

	c.mu.Lock()
	actions, pending := c.evaluate(r)
	c.mu.Unlock()

	c.persist(ctx, pending)
	return actions
}

func (c *Controller) needsSync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Enabled && !c.state.Synced
}

// writes collects the store calls a tick produced
type writes struct {
	automation string
	alert      *models.MoldAlert
	opened     *models.Event
	openedBy   *eventStats
	closed     *models.Event
}

// evaluate runs the state machine for one reading; the caller holds c.mu
func (c *Controller) evaluate(r models.Reading) ([]models.Action, writes) {
	st := &c.state
	pending := writes{automation: c.cfg.Name}

	reading := r
	st.LastReading = &reading
	if r.Motion {
		st.LastMotion = copyTime(&r.Timestamp)
	}

	if !c.cfg.Enabled {
		return nil, pending
	}

	if r.WindowOpen {
		return c.windowOverride(r), pending
	}

	var actions []models.Action
	dehumidifierOn := st.DehumidifierRunning

	if r.Humidity == nil {
		log.Printf("[%s] No humidity reading, skipping detection and dehumidifier control", c.cfg.Name)
	} else {
		humidity := *r.Humidity
		st.recordHumidity(r.Timestamp, humidity)
		risk := c.assess(r, &pending)
		c.updateEvent(r, humidity, &pending)

		if action, ok := c.dehumidifierAction(r, humidity, risk); ok {
			actions = append(actions, action)
			dehumidifierOn = action.Type == models.ActionTurnOn
		}
	}

	if action, ok := c.heaterAction(dehumidifierOn); ok {
		actions = append(actions, action)
	}
	return actions, pending
}

// persist performs the tick's store calls. The id of a newly opened event is
// only kept if that event is still the current one.
func (c *Controller) persist(ctx context.Context, w writes) {
	if c.store == nil {
		return
	}

	if w.alert != nil {
		if err := c.store.RecordAlert(ctx, w.alert); err != nil {
			log.Printf("[%s] Failed to record mold alert: %v", w.automation, err)
		}
	}

	if w.closed != nil {
		if err := c.store.CloseEvent(ctx, w.closed); err != nil {
			log.Printf("[%s] Failed to close event %d: %v", w.automation, w.closed.ID, err)
		}
	}

	if w.opened != nil {
		id, err := c.store.OpenEvent(ctx, w.opened)
		if err != nil {
			log.Printf("[%s] Failed to open event: %v", w.automation, err)
			return
		}
		c.mu.Lock()
		if c.state.event == w.openedBy {
			c.state.CurrentEventID = &id
		}
		c.mu.Unlock()
	}
}

// Execute sends actions to the platform. Only successful commands update the
// hysteresis state, so a failed command is emitted again on the next tick.
func (c *Controller) Execute(ctx context.Context, actions []models.Action) []models.ActionResult {
	results := make([]models.ActionResult, 0, len(actions))
	name := c.Name()

	for _, action := range actions {
		var ok bool
		switch action.Type {
		case models.ActionTurnOn:
			ok = c.platform.TurnOn(ctx, action.DeviceID)
		case models.ActionTurnOff:
			ok = c.platform.TurnOff(ctx, action.DeviceID)
		case models.ActionSetTemperature:
			if action.Temperature != nil {
				ok = c.platform.SetTemperature(ctx, action.DeviceID, *action.Temperature)
			}
		}

		metrics.RecordCommand(name, string(action.Type), ok)
		if !ok {
			log.Printf("[%s] Command failed, will retry next tick: %s", name, action)
		} else {
			log.Printf("[%s] ✓ %s", name, action)
			c.recordOutcome(action)
		}
		results = append(results, models.ActionResult{Action: action, Success: ok})
	}
	return results
}

func (c *Controller) recordOutcome(action models.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case action.DeviceID == c.cfg.DehumidifierID && action.Type == models.ActionTurnOn:
		c.state.DehumidifierRunning = true
	case action.DeviceID == c.cfg.DehumidifierID && action.Type == models.ActionTurnOff:
		c.state.DehumidifierRunning = false
		c.state.HumidityBelowSince = nil
	case action.DeviceID == c.cfg.HeaterID && action.Type == models.ActionSetTemperature:
		c.state.HeaterSetpoint = models.Float(*action.Temperature)
	}
}

// syncDevices reconciles believed actuator state with the platform on the first
// tick. The platform is read without holding c.mu.
func (c *Controller) syncDevices(ctx context.Context, r models.Reading) {
	cfg := c.Config()

	dev, err := c.platform.GetState(ctx, cfg.DehumidifierID)
	if err != nil {
		log.Printf("[%s] Failed to sync dehumidifier state, retrying next tick: %v", cfg.Name, err)
		return
	}

	var setpoint *float64
	if cfg.HeatingBoostEnabled && cfg.HeaterID != "" {
		heater, err := c.platform.GetState(ctx, cfg.HeaterID)
		if err != nil {
			log.Printf("[%s] Failed to read heater setpoint: %v", cfg.Name, err)
		} else if heater.Setpoint != nil {
			setpoint = models.Float(*heater.Setpoint)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// devices were swapped by a reload while reading; sync again next tick
	if c.cfg.DehumidifierID != cfg.DehumidifierID || c.cfg.HeaterID != cfg.HeaterID {
		return
	}

	st := &c.state
	if dev.Switch != nil {
		st.DehumidifierRunning = *dev.Switch
	}
	if st.DehumidifierRunning && r.Humidity != nil && *r.Humidity < c.cfg.HumidityLow {
		st.HumidityBelowSince = copyTime(&r.Timestamp)
		log.Printf("[%s] Dehumidifier already running below %.1f%%, starting shutdown delay", c.cfg.Name, c.cfg.HumidityLow)
	}
	if setpoint != nil {
		st.HeaterSetpoint = setpoint
	}

	st.Synced = true
	log.Printf("[%s] ✓ Synced device state (dehumidifier_running=%v)", c.cfg.Name, st.DehumidifierRunning)
}

// windowOverride turns the dehumidifier off and drops the heater to frost
// protection. Nothing else runs while the window is open. The turn_off is sent
// on every such tick, whatever the believed dehumidifier state.
func (c *Controller) windowOverride(r models.Reading) []models.Action {
	st := &c.state
	actions := []models.Action{{
		DeviceID: c.cfg.DehumidifierID,
		Type:     models.ActionTurnOff,
		Reason:   "window open",
	}}
	st.HumidityBelowSince = nil

	if !c.cfg.HeatingBoostEnabled || c.cfg.HeaterID == "" {
		return actions
	}

	frost := c.cfg.FrostProtectionTemp
	current := st.HeaterSetpoint
	if current == nil {
		current = r.Temperature
	}
	if current == nil || *current > frost+frostMargin {
		actions = append(actions, models.Action{
			DeviceID:    c.cfg.HeaterID,
			Type:        models.ActionSetTemperature,
			Temperature: models.Float(frost),
			Reason:      fmt.Sprintf("window open, frost protection %.1f°C", frost),
		})
	}
	return actions
}

// assess computes the tick's mold risk and queues an alert on its rising edge
func (c *Controller) assess(r models.Reading, pending *writes) *models.RiskAssessment {
	st := &c.state
	if r.Temperature == nil {
		st.LastRisk = nil
		return nil
	}

	risk, err := c.assessor.Assess(*r.Temperature, *r.Humidity, nil)
	if err != nil {
		log.Printf("[%s] Skipping mold risk: %v", c.cfg.Name, err)
		st.LastRisk = nil
		return nil
	}
	st.LastRisk = risk

	if risk.AlertRequired && !st.AlertActive {
		log.Printf("[%s] Mold alert: risk %s (score %.1f, dewpoint %.1f°C)", c.cfg.Name, risk.RiskLevel, risk.RiskScore, risk.Dewpoint)
		pending.alert = &models.MoldAlert{
			Automation:  c.cfg.Name,
			Timestamp:   r.Timestamp,
			Temperature: risk.Temperature,
			Humidity:    risk.Humidity,
			Dewpoint:    risk.Dewpoint,
			RiskLevel:   risk.RiskLevel,
			RiskScore:   risk.RiskScore,
			Message:     risk.Recommendations[0],
		}
	}
	st.AlertActive = risk.AlertRequired
	return risk
}

// updateEvent runs the IDLE/EVENT_ACTIVE state machine
func (c *Controller) updateEvent(r models.Reading, humidity float64, pending *writes) {
	st := &c.state

	if st.ShowerDetected {
		if st.event != nil {
			st.event.add(r, humidity, st.DehumidifierRunning)
		}
		if humidity < c.cfg.HumidityLow {
			pending.closed = c.closeEvent(r, humidity)
		}
		return
	}

	d := detectShower(c.cfg, st, r, humidity)
	if !d.detected {
		return
	}

	st.ShowerDetected = true
	st.EventStartTime = copyTime(&r.Timestamp)
	st.event = newEventStats(r, humidity)
	st.event.add(r, humidity, st.DehumidifierRunning)
	metrics.ShowerEventsTotal.WithLabelValues(c.cfg.Name).Inc()
	log.Printf("[%s] Shower detected: humidity %.1f%%, rise %.1f%%/min, motion=%v",
		c.cfg.Name, humidity, d.rate, r.Motion)

	pending.opened = st.event.toEvent(c.cfg.Name, nil, nil)
	pending.openedBy = st.event
}

// closeEvent returns the state machine to idle and returns the finished event
// when it has a stored row to update
func (c *Controller) closeEvent(r models.Reading, humidity float64) *models.Event {
	st := &c.state
	defer st.resetEvent()

	if st.event == nil {
		return nil
	}
	event := st.event.toEvent(c.cfg.Name, copyTime(&r.Timestamp), models.Float(humidity))
	log.Printf("[%s] Shower event ended: peak %.1f%%, avg %.1f%%, dehumidifier %.1f min",
		c.cfg.Name, event.PeakHumidity, event.AvgHumidity, event.DehumidifierRuntimeMinutes)

	if st.CurrentEventID == nil {
		return nil
	}
	event.ID = *st.CurrentEventID
	return event
}

// dehumidifierAction applies the on/off hysteresis
func (c *Controller) dehumidifierAction(r models.Reading, humidity float64, risk *models.RiskAssessment) (models.Action, bool) {
	st := &c.state
	elevated := risk != nil && risk.RiskLevel.Elevated()

	if st.DehumidifierRunning && humidity < c.cfg.HumidityLow {
		if st.HumidityBelowSince == nil {
			st.HumidityBelowSince = copyTime(&r.Timestamp)
		}
	} else {
		st.HumidityBelowSince = nil
	}

	switch {
	case humidity > c.cfg.HumidityHigh || st.ShowerDetected || elevated:
		if st.DehumidifierRunning {
			return models.Action{}, false
		}
		return models.Action{
			DeviceID: c.cfg.DehumidifierID,
			Type:     models.ActionTurnOn,
			Reason:   c.turnOnReason(humidity, risk),
		}, true

	case st.DehumidifierRunning && st.HumidityBelowSince != nil:
		below := r.Timestamp.Sub(*st.HumidityBelowSince)
		if below < c.delay() {
			return models.Action{}, false
		}
		return models.Action{
			DeviceID: c.cfg.DehumidifierID,
			Type:     models.ActionTurnOff,
			Reason: fmt.Sprintf("humidity %.1f%% below %.1f%% for %s",
				humidity, c.cfg.HumidityLow, below.Round(time.Second)),
		}, true
	}
	return models.Action{}, false
}

func (c *Controller) turnOnReason(humidity float64, risk *models.RiskAssessment) string {
	switch {
	case humidity > c.cfg.HumidityHigh:
		return fmt.Sprintf("humidity %.1f%% above %.1f%%", humidity, c.cfg.HumidityHigh)
	case c.state.ShowerDetected:
		return fmt.Sprintf("shower detected at humidity %.1f%%", humidity)
	default:
		return fmt.Sprintf("mold risk %s at humidity %.1f%%", risk.RiskLevel, humidity)
	}
}

// heaterAction boosts the heater while the dehumidifier runs. A command is only
// emitted when the known setpoint is more than the deadband away from target.
func (c *Controller) heaterAction(dehumidifierOn bool) (models.Action, bool) {
	if !c.cfg.HeatingBoostEnabled || c.cfg.HeaterID == "" {
		return models.Action{}, false
	}

	target := c.cfg.TargetTemperature
	reason := fmt.Sprintf("target %.1f°C", target)
	if dehumidifierOn {
		target += c.cfg.HeatingBoostDelta
		reason = fmt.Sprintf("dehumidifier running, boost to %.1f°C", target)
	}

	if sp := c.state.HeaterSetpoint; sp != nil && math.Abs(*sp-target) <= heaterDeadband {
		return models.Action{}, false
	}
	return models.Action{
		DeviceID:    c.cfg.HeaterID,
		Type:        models.ActionSetTemperature,
		Temperature: models.Float(target),
		Reason:      reason,
	}, true
}

func (c *Controller) delay() time.Duration {
	return time.Duration(c.cfg.DehumidifierDelayMinutes * float64(time.Minute))
}
