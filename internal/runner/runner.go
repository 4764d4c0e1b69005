// Package runner drives every configured automation on its own tick loop.
package runner

import (
	"bathguard/internal/advisor"
	"bathguard/internal/config"
	"bathguard/internal/controller"
	"bathguard/internal/metrics"
	"bathguard/internal/models"
	"bathguard/internal/platform"
	"bathguard/internal/stream"
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// TickPublisher sends tick records downstream
type TickPublisher interface {
	PublishTick(ctx context.Context, stream string, tick *models.TickRecord) error
}

type Options struct {
	TickInterval    time.Duration
	SensorTimeout   time.Duration
	CommandTimeout  time.Duration
	WeatherCacheTTL time.Duration
	TickStream      string
	Locations       []config.Location
	MinConfidence   float64
	AutoApply       bool
}

// OptionsFromConfig maps the loaded config onto runner options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TickInterval:    cfg.Control.TickInterval,
		SensorTimeout:   cfg.Control.SensorTimeout,
		CommandTimeout:  cfg.Control.CommandTimeout,
		WeatherCacheTTL: cfg.Control.WeatherCacheTTL,
		TickStream:      cfg.Streams.Ticks,
		Locations:       cfg.Locations,
		MinConfidence:   cfg.Learning.MinConfidence,
		AutoApply:       cfg.Learning.AutoApply,
	}
}

type Runner struct {
	platform  platform.Platform
	store     controller.EventStore
	publisher TickPublisher
	weather   *weatherCache
	advisor   *advisor.VentilationAdvisor
	opts      Options
	now       func() time.Time

	mu          sync.RWMutex
	controllers map[string]*slot
	running     map[string]bool
	runCtx      context.Context
	wg          sync.WaitGroup
}

// slot holds one automation's controller. mu is held for a whole tick and
// while Reload swaps c, so a swap never lands in the middle of a tick.
// c is written with both mu and Runner.mu held.
type slot struct {
	mu sync.Mutex
	c  *controller.Controller
}

// New creates a controller per automation. weather and publisher may be nil, which
// disables ventilation advice and tick publishing respectively.
func New(automations []models.AutomationConfig, p platform.Platform, store controller.EventStore, weather WeatherSource, publisher TickPublisher, opts Options) (*Runner, error) {
	r := &Runner{
		platform:    p,
		store:       store,
		publisher:   publisher,
		advisor:     advisor.NewVentilationAdvisor(),
		opts:        opts,
		now:         time.Now,
		controllers: make(map[string]*slot),
		running:     make(map[string]bool),
	}
	if weather != nil {
		r.weather = newWeatherCache(weather, opts.WeatherCacheTTL)
	}

	for _, cfg := range automations {
		c, err := controller.New(cfg, p, store)
		if err != nil {
			return nil, err
		}
		r.controllers[cfg.Name] = &slot{c: c}
	}
	return r, nil
}

// Controller returns the named automation's controller
func (r *Runner) Controller(name string) (*controller.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.controllers[name]
	if !ok {
		return nil, false
	}
	return s.c, true
}

// Controllers returns all controllers sorted by name
func (r *Runner) Controllers() []*controller.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*controller.Controller, 0, len(names))
	for _, name := range names {
		out = append(out, r.controllers[name].c)
	}
	return out
}

// Reload swaps in new automation configs. Existing automations keep their state
// when their humidity sensor and dehumidifier are unchanged; each swap waits for
// that automation's in-flight tick to finish. Automations that disappear from the
// config are dropped; new ones start immediately when Run is active.
func (r *Runner) Reload(automations []models.AutomationConfig) error {
	for _, cfg := range automations {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid automation %q: %w", cfg.Name, err)
		}
	}

	r.mu.RLock()
	current := make(map[string]*slot, len(r.controllers))
	for name, s := range r.controllers {
		current[name] = s
	}
	r.mu.RUnlock()

	next := make(map[string]*slot, len(automations))
	for _, cfg := range automations {
		s, ok := current[cfg.Name]
		if !ok {
			c, err := controller.New(cfg, r.platform, r.store)
			if err != nil {
				return err
			}
			next[cfg.Name] = &slot{c: c}
			continue
		}
		if err := r.swap(s, cfg); err != nil {
			return err
		}
		next[cfg.Name] = s
	}

	r.mu.Lock()
	r.controllers = next
	ctx := r.runCtx
	r.mu.Unlock()

	if ctx != nil && ctx.Err() == nil {
		for name := range next {
			r.start(ctx, name)
		}
	}

	log.Printf("✓ Reloaded %d automations", len(next))
	return nil
}

// swap replaces the slot's controller between two ticks
func (r *Runner) swap(s *slot, cfg models.AutomationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := controller.TransferState(s.c, cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	s.c = c
	r.mu.Unlock()
	return nil
}

// Run starts one tick loop per automation and blocks until ctx is cancelled
// and every loop has returned.
func (r *Runner) Run(ctx context.Context) {
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()

	for _, c := range r.Controllers() {
		r.start(ctx, c.Name())
	}

	<-ctx.Done()
	r.wg.Wait()
}

// start launches the loop for name unless one is already running
func (r *Runner) start(ctx context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return
	}
	r.running[name] = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx, name)
	}()
}

func (r *Runner) loop(ctx context.Context, name string) {
	log.Printf("[%s] Starting control loop (interval %s)", name, r.opts.TickInterval)
	defer func() {
		r.mu.Lock()
		delete(r.running, name)
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		if !r.tickSlot(ctx, name) {
			log.Printf("[%s] Automation removed, stopping control loop", name)
			return
		}

		select {
		case <-ctx.Done():
			log.Printf("[%s] Control loop stopped", name)
			return
		case <-ticker.C:
		}
	}
}

// tickSlot runs one tick for whatever controller name currently maps to, so a
// reload takes effect without restarting the loop. It reports false once name
// is gone from the config.
func (r *Runner) tickSlot(ctx context.Context, name string) bool {
	r.mu.RLock()
	s, ok := r.controllers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.mu.RLock()
	current, ok := r.controllers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if current != s {
		// replaced while waiting for the lock; the next tick uses the new slot
		return true
	}
	r.tick(ctx, s.c)
	return true
}

// Tick runs one Collect, Process, Execute, Publish cycle for c
func (r *Runner) Tick(ctx context.Context, c *controller.Controller) *models.TickRecord {
	r.mu.RLock()
	s, ok := r.controllers[c.Name()]
	r.mu.RUnlock()
	if ok {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return r.tick(ctx, c)
}

func (r *Runner) tick(ctx context.Context, c *controller.Controller) *models.TickRecord {
	start := time.Now()
	cfg := c.Config()

	reading := platform.Collect(ctx, r.platform, cfg, r.opts.SensorTimeout, r.now())
	actions := c.Process(ctx, reading)

	var results []models.ActionResult
	if len(actions) > 0 {
		cmdCtx, cancel := context.WithTimeout(ctx, r.opts.CommandTimeout)
		results = c.Execute(cmdCtx, actions)
		cancel()
	}

	st := c.State()
	tick := &models.TickRecord{
		Automation:          cfg.Name,
		Reading:             reading,
		Actions:             results,
		ShowerDetected:      st.ShowerDetected,
		DehumidifierRunning: st.DehumidifierRunning,
	}

	var risk *models.RiskAssessment
	if reading.Humidity != nil && reading.Temperature != nil && st.LastRisk != nil {
		risk = st.LastRisk
		tick.Dewpoint = models.Float(risk.Dewpoint)
		tick.RiskLevel = risk.RiskLevel
		tick.RiskScore = models.Float(risk.RiskScore)
	}
	r.ventilate(ctx, cfg, tick, risk)

	metrics.ObserveClimate(cfg.Name, reading.Humidity, reading.Temperature, tick.RiskScore, st.DehumidifierRunning)

	var err error
	if r.publisher != nil {
		if err = r.publisher.PublishTick(ctx, r.opts.TickStream, tick); err != nil {
			log.Printf("[%s] Failed to publish tick: %v", cfg.Name, err)
		}
	}
	metrics.RecordTick(cfg.Name, time.Since(start), err)
	return tick
}

// ventilate attaches outdoor air advice when the automation has a location
func (r *Runner) ventilate(ctx context.Context, cfg models.AutomationConfig, tick *models.TickRecord, risk *models.RiskAssessment) {
	if r.weather == nil || cfg.Location == "" {
		return
	}
	if tick.Reading.Humidity == nil || tick.Reading.Temperature == nil {
		return
	}

	loc, ok := r.location(cfg.Location)
	if !ok {
		log.Printf("[%s] Unknown location %q, skipping ventilation advice", cfg.Name, cfg.Location)
		return
	}

	outdoor, err := r.weather.get(ctx, loc)
	if err != nil {
		log.Printf("[%s] %v", cfg.Name, err)
		return
	}

	rec, err := r.advisor.Recommend(*tick.Reading.Temperature, *tick.Reading.Humidity, outdoor.Temperature, outdoor.Humidity)
	if err != nil {
		log.Printf("[%s] Skipping ventilation advice: %v", cfg.Name, err)
		return
	}
	priority := advisor.Prioritize(rec, risk)
	tick.Ventilation = rec
	tick.Priority = &priority
}

func (r *Runner) location(name string) (config.Location, bool) {
	for _, l := range r.opts.Locations {
		if l.Name == name {
			return l, true
		}
	}
	return config.Location{}, false
}

// HandleThresholds applies learned threshold messages from the thresholds stream.
// Proposals are only applied when AutoApply is set; unknown automations are skipped.
func (r *Runner) HandleThresholds(ctx context.Context, msgs []stream.Message) error {
	for _, m := range msgs {
		lt, err := stream.DecodeThresholds(m)
		if err != nil {
			log.Printf("Skipping thresholds message: %v", err)
			continue
		}

		if !r.opts.AutoApply {
			if _, ok := r.Controller(lt.Automation); !ok {
				log.Printf("Skipping thresholds for unknown automation %q", lt.Automation)
				continue
			}
			log.Printf("[%s] Learned thresholds %.1f%%/%.1f%% (confidence %.2f) not applied, auto_apply is off",
				lt.Automation, lt.HumidityHigh, lt.HumidityLow, lt.Confidence)
			continue
		}

		var applied bool
		found := r.between(lt.Automation, func(c *controller.Controller) {
			applied, err = c.ApplyLearned(lt, r.opts.MinConfidence)
		})
		switch {
		case !found:
			log.Printf("Skipping thresholds for unknown automation %q", lt.Automation)
		case err != nil:
			log.Printf("[%s] Rejected learned thresholds: %v", lt.Automation, err)
		case applied:
			log.Printf("[%s] ✓ Applied learned thresholds %.1f%%/%.1f%%", lt.Automation, lt.HumidityHigh, lt.HumidityLow)
		}
	}
	return nil
}

// between runs fn on name's current controller while no tick or swap is in
// progress. It reports false when name is unknown.
func (r *Runner) between(name string, fn func(*controller.Controller)) bool {
	r.mu.RLock()
	s, ok := r.controllers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.c)
	return true
}
