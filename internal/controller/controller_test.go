package controller

import (
	"bathguard/internal/models"
	"bathguard/internal/platform"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakePlatform struct {
	states   map[string]*platform.SensorState
	fail     bool
	commands []string
}

func newFakePlatform(dehumidifierOn bool) *fakePlatform {
	return &fakePlatform{
		states: map[string]*platform.SensorState{
			"dehumidifier": {Switch: &dehumidifierOn},
		},
	}
}

func (f *fakePlatform) GetState(ctx context.Context, deviceID string) (*platform.SensorState, error) {
	st, ok := f.states[deviceID]
	if !ok {
		return nil, platform.ErrNoState
	}
	return st, nil
}

func (f *fakePlatform) TurnOn(ctx context.Context, deviceID string) bool {
	f.commands = append(f.commands, "on:"+deviceID)
	return !f.fail
}

func (f *fakePlatform) TurnOff(ctx context.Context, deviceID string) bool {
	f.commands = append(f.commands, "off:"+deviceID)
	return !f.fail
}

func (f *fakePlatform) SetTemperature(ctx context.Context, deviceID string, celsius float64) bool {
	f.commands = append(f.commands, "set:"+deviceID)
	return !f.fail
}

type fakeStore struct {
	nextID int64
	opened []models.Event
	closed []models.Event
	alerts []models.MoldAlert
}

func (s *fakeStore) OpenEvent(ctx context.Context, event *models.Event) (int64, error) {
	s.nextID++
	s.opened = append(s.opened, *event)
	return s.nextID, nil
}

func (s *fakeStore) CloseEvent(ctx context.Context, event *models.Event) error {
	s.closed = append(s.closed, *event)
	return nil
}

func (s *fakeStore) RecordAlert(ctx context.Context, alert *models.MoldAlert) error {
	s.alerts = append(s.alerts, *alert)
	return nil
}

func testConfig() models.AutomationConfig {
	cfg := models.DefaultAutomationConfig()
	cfg.Name = "main-bath"
	cfg.HumiditySensorID = "bath_sensor"
	cfg.MotionSensorID = "bath_motion"
	cfg.DehumidifierID = "dehumidifier"
	return cfg
}

func heatingConfig() models.AutomationConfig {
	cfg := testConfig()
	cfg.HeatingBoostEnabled = true
	cfg.HeaterID = "radiator"
	return cfg
}

func newTestController(t *testing.T, cfg models.AutomationConfig, p *fakePlatform) (*Controller, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	c, err := New(cfg, p, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.now = func() time.Time { return t0 }
	return c, store
}

func reading(at time.Time, humidity, temp float64) models.Reading {
	return models.Reading{
		Timestamp:   at,
		Humidity:    models.Float(humidity),
		Temperature: models.Float(temp),
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.HumidityHigh = 60
	cfg.HumidityLow = 70

	if _, err := New(cfg, newFakePlatform(false), nil); !errors.Is(err, models.ErrInvalidThresholds) {
		t.Errorf("New() error = %v, want ErrInvalidThresholds", err)
	}
	if _, err := New(testConfig(), nil, nil); !errors.Is(err, ErrNoPlatform) {
		t.Errorf("New(nil platform) error = %v, want ErrNoPlatform", err)
	}
}

func TestProcess_ShowerTurnsDehumidifierOn(t *testing.T) {
	c, store := newTestController(t, testConfig(), newFakePlatform(false))

	r := reading(t0, 78, 22)
	r.Motion = true
	actions := c.Process(context.Background(), r)

	if len(actions) != 1 {
		t.Fatalf("Expected 1 action, got %d: %v", len(actions), actions)
	}
	a := actions[0]
	if a.Type != models.ActionTurnOn || a.DeviceID != "dehumidifier" {
		t.Errorf("action = %s, want turn_on dehumidifier", a)
	}
	if !strings.Contains(a.Reason, "humidity") {
		t.Errorf("reason %q should mention humidity", a.Reason)
	}

	st := c.State()
	if !st.ShowerDetected {
		t.Error("ShowerDetected = false, want true")
	}
	if st.CurrentEventID == nil || *st.CurrentEventID != 1 {
		t.Errorf("CurrentEventID = %v, want 1", st.CurrentEventID)
	}
	if len(store.opened) != 1 {
		t.Fatalf("Expected 1 opened event, got %d", len(store.opened))
	}
	if store.opened[0].StartHumidity != 78 {
		t.Errorf("StartHumidity = %v, want 78", store.opened[0].StartHumidity)
	}
	// 22°C / 78% puts the dewpoint above a wall 5°C colder than the room
	if len(store.alerts) != 1 || store.alerts[0].RiskLevel != models.RiskCritical {
		t.Errorf("Expected one CRITICAL alert, got %+v", store.alerts)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	c, store := newTestController(t, testConfig(), newFakePlatform(false))

	r := reading(t0, 78, 22)
	r.Motion = true
	first := c.Process(context.Background(), r)
	second := c.Process(context.Background(), r)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Process() not idempotent:\nfirst  %v\nsecond %v", first, second)
	}
	if len(store.opened) != 1 {
		t.Errorf("Expected 1 opened event, got %d", len(store.opened))
	}
	if len(store.alerts) != 1 {
		t.Errorf("Expected 1 alert, got %d", len(store.alerts))
	}
	if n := len(c.State().HumidityHistory); n != 1 {
		t.Errorf("history length = %d, want 1", n)
	}
}

func TestProcess_HysteresisTurnsOffAfterDelay(t *testing.T) {
	p := newFakePlatform(false)
	c, store := newTestController(t, testConfig(), p)
	ctx := context.Background()

	start := reading(t0, 78, 22)
	start.Motion = true
	results := c.Execute(ctx, c.Process(ctx, start))
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("Execute() = %v, want one successful command", results)
	}
	if !c.State().DehumidifierRunning {
		t.Fatal("DehumidifierRunning = false after successful turn_on")
	}

	crossed := t0.Add(time.Minute)
	if actions := c.Process(ctx, reading(crossed, 55, 22)); len(actions) != 0 {
		t.Errorf("Expected no actions right after crossing humidity_low, got %v", actions)
	}
	if c.State().ShowerDetected {
		t.Error("event should close once humidity drops below humidity_low")
	}
	if actions := c.Process(ctx, reading(crossed.Add(4*time.Minute), 55, 22)); len(actions) != 0 {
		t.Errorf("Expected no actions before the delay elapsed, got %v", actions)
	}

	actions := c.Process(ctx, reading(crossed.Add(6*time.Minute), 55, 22))
	if len(actions) != 1 || actions[0].Type != models.ActionTurnOff || actions[0].DeviceID != "dehumidifier" {
		t.Fatalf("Expected [turn_off dehumidifier], got %v", actions)
	}

	c.Execute(ctx, actions)
	st := c.State()
	if st.DehumidifierRunning {
		t.Error("DehumidifierRunning = true after successful turn_off")
	}
	if st.HumidityBelowSince != nil {
		t.Error("HumidityBelowSince should reset after turn_off")
	}
	if len(store.closed) != 1 {
		t.Errorf("Expected 1 closed event, got %d", len(store.closed))
	}
}

func TestProcess_RiseResetsCountdown(t *testing.T) {
	c, _ := newTestController(t, testConfig(), newFakePlatform(true))
	ctx := context.Background()

	c.Process(ctx, reading(t0, 55, 22))
	c.Process(ctx, reading(t0.Add(2*time.Minute), 62, 22))
	if c.State().HumidityBelowSince != nil {
		t.Fatal("HumidityBelowSince should reset when humidity rises above humidity_low")
	}

	c.Process(ctx, reading(t0.Add(4*time.Minute), 55, 22))
	if actions := c.Process(ctx, reading(t0.Add(7*time.Minute), 55, 22)); len(actions) != 0 {
		t.Errorf("countdown restarted at 4m, expected no actions at 7m, got %v", actions)
	}
	actions := c.Process(ctx, reading(t0.Add(9*time.Minute), 55, 22))
	if len(actions) != 1 || actions[0].Type != models.ActionTurnOff {
		t.Errorf("Expected turn_off at 9m, got %v", actions)
	}
}

func TestProcess_ClosedEventStats(t *testing.T) {
	c, store := newTestController(t, testConfig(), newFakePlatform(false))
	ctx := context.Background()

	start := reading(t0, 78, 22)
	start.Motion = true
	start.DoorClosed = true
	c.Execute(ctx, c.Process(ctx, start))
	c.Process(ctx, reading(t0.Add(time.Minute), 55, 24))

	if len(store.closed) != 1 {
		t.Fatalf("Expected 1 closed event, got %d", len(store.closed))
	}
	e := store.closed[0]

	if e.ID != 1 {
		t.Errorf("ID = %d, want 1", e.ID)
	}
	if e.EndTime == nil || !e.EndTime.Equal(t0.Add(time.Minute)) {
		t.Errorf("EndTime = %v, want %v", e.EndTime, t0.Add(time.Minute))
	}
	if e.PeakHumidity != 78 {
		t.Errorf("PeakHumidity = %v, want 78", e.PeakHumidity)
	}
	if e.AvgHumidity != 66.5 {
		t.Errorf("AvgHumidity = %v, want 66.5", e.AvgHumidity)
	}
	if e.EndHumidity == nil || *e.EndHumidity != 55 {
		t.Errorf("EndHumidity = %v, want 55", e.EndHumidity)
	}
	if e.AvgTemperature == nil || *e.AvgTemperature != 23 {
		t.Errorf("AvgTemperature = %v, want 23", e.AvgTemperature)
	}
	if e.DehumidifierRuntimeMinutes != 1 {
		t.Errorf("DehumidifierRuntimeMinutes = %v, want 1", e.DehumidifierRuntimeMinutes)
	}
	if !e.MotionDetected || !e.DoorClosed {
		t.Errorf("MotionDetected=%v DoorClosed=%v, want both true", e.MotionDetected, e.DoorClosed)
	}

	st := c.State()
	if st.ShowerDetected || st.CurrentEventID != nil || st.EventStartTime != nil {
		t.Errorf("state not reset to idle: %+v", st)
	}
}

func TestProcess_MoldRiskTurnsDehumidifierOn(t *testing.T) {
	c, _ := newTestController(t, testConfig(), newFakePlatform(false))

	// 66% at 22°C leaves a dewpoint margin under 2°C without crossing humidity_high
	actions := c.Process(context.Background(), reading(t0, 66, 22))

	if len(actions) != 1 || actions[0].Type != models.ActionTurnOn {
		t.Fatalf("Expected turn_on for mold risk, got %v", actions)
	}
	if !strings.Contains(actions[0].Reason, "mold risk HIGH") {
		t.Errorf("reason = %q, want mold risk HIGH", actions[0].Reason)
	}
	if c.State().ShowerDetected {
		t.Error("mold risk alone should not open an event")
	}
}

func TestProcess_WindowOpenOverride(t *testing.T) {
	turnOff := models.Action{DeviceID: "dehumidifier", Type: models.ActionTurnOff, Reason: "window open"}

	tests := []struct {
		name           string
		cfg            models.AutomationConfig
		dehumidifierOn bool
		unreadable     bool
		setpoint       *float64
		want           []models.Action
	}{
		{
			name:           "turns running dehumidifier off",
			cfg:            testConfig(),
			dehumidifierOn: true,
			want:           []models.Action{turnOff},
		},
		{
			name: "turns idle dehumidifier off instead of on",
			cfg:  testConfig(),
			want: []models.Action{turnOff},
		},
		{
			name:       "turns dehumidifier off when its state cannot be read",
			cfg:        testConfig(),
			unreadable: true,
			want:       []models.Action{turnOff},
		},
		{
			name:           "drops heater to frost protection",
			cfg:            heatingConfig(),
			dehumidifierOn: true,
			setpoint:       models.Float(22),
			want: []models.Action{
				turnOff,
				{DeviceID: "radiator", Type: models.ActionSetTemperature, Temperature: models.Float(12), Reason: "window open, frost protection 12.0°C"},
			},
		},
		{
			name:     "heater already near frost protection",
			cfg:      heatingConfig(),
			setpoint: models.Float(12.3),
			want:     []models.Action{turnOff},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePlatform(tt.dehumidifierOn)
			if tt.unreadable {
				delete(p.states, "dehumidifier")
			}
			if tt.setpoint != nil {
				p.states["radiator"] = &platform.SensorState{Setpoint: tt.setpoint}
			}
			c, store := newTestController(t, tt.cfg, p)

			r := reading(t0, 90, 22)
			r.Motion = true
			r.WindowOpen = true
			got := c.Process(context.Background(), r)

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Process() = %v, want %v", got, tt.want)
			}
			if c.State().ShowerDetected || len(store.opened) != 0 {
				t.Error("window open should skip shower detection")
			}
		})
	}
}

func TestProcess_WindowOpenAfterFailedTurnOn(t *testing.T) {
	p := newFakePlatform(false)
	c, _ := newTestController(t, testConfig(), p)
	ctx := context.Background()

	r := reading(t0, 78, 22)
	r.Motion = true
	p.fail = true
	c.Execute(ctx, c.Process(ctx, r))
	if c.State().DehumidifierRunning {
		t.Fatal("DehumidifierRunning should stay false after a failed turn_on")
	}

	p.fail = false
	open := reading(t0.Add(time.Minute), 79, 22)
	open.WindowOpen = true
	actions := c.Process(ctx, open)
	if len(actions) != 1 || actions[0].Type != models.ActionTurnOff || actions[0].DeviceID != "dehumidifier" {
		t.Fatalf("Process() = %v, want a dehumidifier turn_off", actions)
	}

	results := c.Execute(ctx, actions)
	if len(results) != 1 || !results[0].Success {
		t.Errorf("Execute() = %v, want the turn_off delivered", results)
	}
	if got := p.commands[len(p.commands)-1]; got != "off:dehumidifier" {
		t.Errorf("last command = %q, want off:dehumidifier", got)
	}
}

func TestProcess_HeaterBoost(t *testing.T) {
	tests := []struct {
		name     string
		humidity float64
		setpoint *float64
		want     *float64 // nil means no heater command
	}{
		{"within deadband of target", 50, models.Float(21.2), nil},
		{"boost while dehumidifier turns on", 78, models.Float(21.2), models.Float(22)},
		{"boost already applied", 78, models.Float(22), nil},
		{"unknown setpoint", 50, nil, models.Float(21)},
		{"restore target after boost", 50, models.Float(22), models.Float(21)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePlatform(false)
			if tt.setpoint != nil {
				p.states["radiator"] = &platform.SensorState{Setpoint: tt.setpoint}
			}
			c, _ := newTestController(t, heatingConfig(), p)

			r := reading(t0, tt.humidity, 22)
			r.Motion = true
			actions := c.Process(context.Background(), r)

			var heater *models.Action
			for i := range actions {
				if actions[i].DeviceID == "radiator" {
					heater = &actions[i]
				}
			}

			switch {
			case tt.want == nil && heater != nil:
				t.Errorf("unexpected heater command %s", heater)
			case tt.want != nil && heater == nil:
				t.Errorf("expected set_temperature %.1f, got none", *tt.want)
			case tt.want != nil && *heater.Temperature != *tt.want:
				t.Errorf("heater target = %.1f, want %.1f", *heater.Temperature, *tt.want)
			}
		})
	}
}

func TestProcess_MissingHumidity(t *testing.T) {
	c, store := newTestController(t, testConfig(), newFakePlatform(false))

	r := models.Reading{Timestamp: t0, Temperature: models.Float(22), Motion: true}
	if actions := c.Process(context.Background(), r); len(actions) != 0 {
		t.Errorf("Expected no actions without humidity, got %v", actions)
	}

	st := c.State()
	if st.ShowerDetected || len(store.opened) != 0 {
		t.Error("missing humidity should skip detection")
	}
	if st.LastReading == nil || st.LastReading.Temperature == nil {
		t.Error("LastReading should still be recorded")
	}
}

func TestProcess_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c, _ := newTestController(t, cfg, newFakePlatform(false))

	if actions := c.Process(context.Background(), reading(t0, 95, 22)); actions != nil {
		t.Errorf("disabled automation returned %v", actions)
	}
}

func TestProcess_FirstTickSync(t *testing.T) {
	c, _ := newTestController(t, testConfig(), newFakePlatform(true))
	ctx := context.Background()

	if actions := c.Process(ctx, reading(t0, 55, 22)); len(actions) != 0 {
		t.Errorf("Expected no actions on the first tick, got %v", actions)
	}

	st := c.State()
	if !st.Synced || !st.DehumidifierRunning {
		t.Fatalf("Synced=%v DehumidifierRunning=%v, want both true", st.Synced, st.DehumidifierRunning)
	}
	if st.HumidityBelowSince == nil || !st.HumidityBelowSince.Equal(t0) {
		t.Errorf("HumidityBelowSince = %v, want %v", st.HumidityBelowSince, t0)
	}

	c.now = func() time.Time { return t0.Add(2 * time.Minute) }
	status := c.GetStatus()
	if status.ShutdownCountdownSeconds == nil || *status.ShutdownCountdownSeconds != 180 {
		t.Errorf("ShutdownCountdownSeconds = %v, want 180", status.ShutdownCountdownSeconds)
	}

	actions := c.Process(ctx, reading(t0.Add(5*time.Minute), 55, 22))
	if len(actions) != 1 || actions[0].Type != models.ActionTurnOff {
		t.Errorf("Expected turn_off after the delay, got %v", actions)
	}
}

func TestProcess_SyncRetriedAfterFailure(t *testing.T) {
	p := newFakePlatform(true)
	delete(p.states, "dehumidifier")
	c, _ := newTestController(t, testConfig(), p)
	ctx := context.Background()

	c.Process(ctx, reading(t0, 50, 22))
	if c.State().Synced {
		t.Fatal("Synced should stay false when the dehumidifier cannot be read")
	}

	on := true
	p.states["dehumidifier"] = &platform.SensorState{Switch: &on}
	c.Process(ctx, reading(t0.Add(time.Minute), 50, 22))
	if st := c.State(); !st.Synced || !st.DehumidifierRunning {
		t.Errorf("Synced=%v DehumidifierRunning=%v after retry, want both true", st.Synced, st.DehumidifierRunning)
	}
}

func TestExecute_FailureRetriedNextTick(t *testing.T) {
	p := newFakePlatform(false)
	c, _ := newTestController(t, testConfig(), p)
	ctx := context.Background()

	r := reading(t0, 78, 22)
	r.Motion = true
	p.fail = true
	results := c.Execute(ctx, c.Process(ctx, r))

	if len(results) != 1 || results[0].Success {
		t.Fatalf("Execute() = %v, want one failed command", results)
	}
	if c.State().DehumidifierRunning {
		t.Fatal("DehumidifierRunning should stay false after a failed command")
	}

	p.fail = false
	actions := c.Process(ctx, reading(t0.Add(time.Minute), 79, 22))
	if len(actions) != 1 || actions[0].Type != models.ActionTurnOn {
		t.Errorf("Expected turn_on to be emitted again, got %v", actions)
	}
}

// blockingStore holds OpenEvent until release is closed
type blockingStore struct {
	fakeStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) OpenEvent(ctx context.Context, event *models.Event) (int64, error) {
	close(s.entered)
	<-s.release
	return s.fakeStore.OpenEvent(ctx, event)
}

func TestProcess_SlowStoreDoesNotBlockStatus(t *testing.T) {
	store := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	c, err := New(testConfig(), newFakePlatform(false), store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	r := reading(t0, 78, 22)
	r.Motion = true
	done := make(chan []models.Action)
	go func() {
		done <- c.Process(context.Background(), r)
	}()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("OpenEvent was never called")
	}

	status := make(chan models.Status)
	go func() {
		status <- c.GetStatus()
	}()
	select {
	case st := <-status:
		if !st.ShowerDetected {
			t.Error("GetStatus() should already report the shower")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetStatus() blocked while the store was writing")
	}

	close(store.release)
	select {
	case actions := <-done:
		if len(actions) != 1 || actions[0].Type != models.ActionTurnOn {
			t.Errorf("Process() = %v, want turn_on", actions)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process() did not return after the store was released")
	}

	if id := c.State().CurrentEventID; id == nil || *id != 1 {
		t.Errorf("CurrentEventID = %v, want 1", id)
	}
}

func TestGetStatus(t *testing.T) {
	c, _ := newTestController(t, testConfig(), newFakePlatform(false))

	status := c.GetStatus()
	if status.Automation != "main-bath" || !status.Enabled {
		t.Errorf("status = %+v", status)
	}
	if status.CurrentHumidity != nil || status.ShutdownCountdownSeconds != nil {
		t.Errorf("fresh controller should report no readings, got %+v", status)
	}

	r := reading(t0, 78, 22)
	r.Motion = true
	c.Process(context.Background(), r)

	status = c.GetStatus()
	if !status.ShowerDetected {
		t.Error("ShowerDetected = false, want true")
	}
	if status.CurrentHumidity == nil || *status.CurrentHumidity != 78 {
		t.Errorf("CurrentHumidity = %v, want 78", status.CurrentHumidity)
	}
	if status.Thresholds.HumidityHigh != 70 || status.Thresholds.HumidityLow != 60 {
		t.Errorf("Thresholds = %+v, want 70/60", status.Thresholds)
	}
	if status.RiskLevel != models.RiskCritical {
		t.Errorf("RiskLevel = %v, want CRITICAL", status.RiskLevel)
	}
	if status.CurrentEventID == nil || *status.CurrentEventID != 1 {
		t.Errorf("CurrentEventID = %v, want 1", status.CurrentEventID)
	}
}

func TestReloadConfig(t *testing.T) {
	c, _ := newTestController(t, testConfig(), newFakePlatform(false))

	bad := testConfig()
	bad.HumidityLow = 80
	if err := c.ReloadConfig(bad); !errors.Is(err, models.ErrInvalidThresholds) {
		t.Errorf("ReloadConfig() error = %v, want ErrInvalidThresholds", err)
	}
	if c.Config().HumidityLow != 60 {
		t.Errorf("rejected config was applied: low=%v", c.Config().HumidityLow)
	}

	good := testConfig().WithThresholds(75, 62)
	if err := c.ReloadConfig(good); err != nil {
		t.Fatalf("ReloadConfig() error = %v", err)
	}
	if got := c.Config(); got.HumidityHigh != 75 || got.HumidityLow != 62 {
		t.Errorf("Config() = %v/%v, want 75/62", got.HumidityHigh, got.HumidityLow)
	}
}

func TestApplyLearned(t *testing.T) {
	tests := []struct {
		name        string
		proposal    *models.LearnedThresholds
		wantApplied bool
		wantErr     bool
		wantHigh    float64
	}{
		{"nil proposal", nil, false, false, 70},
		{"below confidence floor", &models.LearnedThresholds{HumidityHigh: 75, HumidityLow: 62, Confidence: 0.6}, false, false, 70},
		{"accepted", &models.LearnedThresholds{HumidityHigh: 75, HumidityLow: 62, Confidence: 0.8}, true, false, 75},
		{"inverted thresholds", &models.LearnedThresholds{HumidityHigh: 60, HumidityLow: 65, Confidence: 0.9}, false, true, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestController(t, testConfig(), newFakePlatform(false))

			applied, err := c.ApplyLearned(tt.proposal, 0.7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyLearned() error = %v, wantErr %v", err, tt.wantErr)
			}
			if applied != tt.wantApplied {
				t.Errorf("ApplyLearned() = %v, want %v", applied, tt.wantApplied)
			}
			if got := c.Config().HumidityHigh; got != tt.wantHigh {
				t.Errorf("HumidityHigh = %v, want %v", got, tt.wantHigh)
			}
		})
	}
}

func TestTransferState(t *testing.T) {
	p := newFakePlatform(false)
	prev, _ := newTestController(t, testConfig(), p)

	r := reading(t0, 78, 22)
	r.Motion = true
	prev.Execute(context.Background(), prev.Process(context.Background(), r))

	t.Run("compatible devices carry state", func(t *testing.T) {
		next, err := TransferState(prev, testConfig().WithThresholds(75, 62))
		if err != nil {
			t.Fatalf("TransferState() error = %v", err)
		}
		st := next.State()
		if !st.ShowerDetected || !st.DehumidifierRunning {
			t.Errorf("state not carried: %+v", st)
		}
		if len(st.HumidityHistory) != 1 {
			t.Errorf("history length = %d, want 1", len(st.HumidityHistory))
		}
		if next.Config().HumidityHigh != 75 {
			t.Errorf("new config not active: high=%v", next.Config().HumidityHigh)
		}
	})

	t.Run("changed dehumidifier starts fresh", func(t *testing.T) {
		cfg := testConfig()
		cfg.DehumidifierID = "dehumidifier_2"
		next, err := TransferState(prev, cfg)
		if err != nil {
			t.Fatalf("TransferState() error = %v", err)
		}
		st := next.State()
		if st.ShowerDetected || st.DehumidifierRunning || st.Synced {
			t.Errorf("expected fresh state, got %+v", st)
		}
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.HumidityLow = 90
		if _, err := TransferState(prev, cfg); err == nil {
			t.Error("TransferState() accepted an invalid config")
		}
	})
}

func TestSuggestThresholds(t *testing.T) {
	c, _ := newTestController(t, testConfig(), newFakePlatform(false))

	if got := c.SuggestThresholds(nil, 0.7); got != nil {
		t.Errorf("SuggestThresholds(nil) = %+v, want nil", got)
	}
}

func TestAssessRiskAndVentilation(t *testing.T) {
	c, _ := newTestController(t, testConfig(), newFakePlatform(false))

	risk, err := c.AssessRisk(22, 78, nil)
	if err != nil {
		t.Fatalf("AssessRisk() error = %v", err)
	}
	if risk.RiskLevel != models.RiskCritical {
		t.Errorf("RiskLevel = %v, want CRITICAL", risk.RiskLevel)
	}

	rec, err := c.RecommendVentilation(22, 60, 5, 70)
	if err != nil {
		t.Fatalf("RecommendVentilation() error = %v", err)
	}
	if !rec.IsBeneficial || rec.RecommendedDurationMinutes != 10 {
		t.Errorf("recommendation = %+v, want beneficial for 10 minutes", rec)
	}
}
