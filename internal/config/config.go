package config

import (
	"bathguard/internal/models"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Location struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex // guards instance once Reload can replace it
)

// Config is the bathguard.yaml layout. Connection secrets come from the environment.
type Config struct {
	Automations []models.AutomationConfig `yaml:"automations"`
	Locations   []Location                `yaml:"locations"`
	Control     struct {
		TickInterval    time.Duration `yaml:"tick_interval"`
		SensorTimeout   time.Duration `yaml:"sensor_timeout"`
		CommandTimeout  time.Duration `yaml:"command_timeout"`
		WeatherCacheTTL time.Duration `yaml:"weather_cache_ttl"`
	} `yaml:"control"`
	Learning struct {
		MinConfidence float64 `yaml:"min_confidence"`
		MinSamples    int     `yaml:"min_samples"`
		HistoryDays   int     `yaml:"history_days"`
		AutoApply     bool    `yaml:"auto_apply"`
		Workers       int     `yaml:"workers"`
	} `yaml:"learning"`
	Streams struct {
		Ticks         string `yaml:"ticks"`
		Thresholds    string `yaml:"thresholds"`
		ConsumerGroup string `yaml:"consumer_group"`
		MaxLen        int64  `yaml:"max_len"`
	} `yaml:"streams"`
	MQTT struct {
		BaseTopic  string        `yaml:"base_topic"`
		StaleAfter time.Duration `yaml:"stale_after"`
	} `yaml:"mqtt"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		var cfg *Config
		cfg, err = parse(configPath)
		mu.Lock()
		instance = cfg
		mu.Unlock()
	})

	mu.RLock()
	defer mu.RUnlock()
	return instance, err
}

// Reload re-reads configPath and replaces the loaded config. On error the
// previous config stays active.
func Reload(configPath string) (*Config, error) {
	cfg, err := parse(configPath)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	instance = cfg
	mu.Unlock()
	return cfg, nil
}

func parse(configPath string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("config not loaded - call config.Load() first")
	}
	return instance
}

// Automation returns the named automation
func (c *Config) Automation(name string) (models.AutomationConfig, bool) {
	for _, a := range c.Automations {
		if a.Name == name {
			return a, true
		}
	}
	return models.AutomationConfig{}, false
}

// Location returns the named location
func (c *Config) Location(name string) (Location, bool) {
	for _, l := range c.Locations {
		if l.Name == name {
			return l, true
		}
	}
	return Location{}, false
}

func (c *Config) applyDefaults() {
	if c.Control.TickInterval <= 0 {
		c.Control.TickInterval = 60 * time.Second
	}
	if c.Control.SensorTimeout <= 0 {
		c.Control.SensorTimeout = 5 * time.Second
	}
	if c.Control.CommandTimeout <= 0 {
		c.Control.CommandTimeout = 5 * time.Second
	}
	if c.Control.WeatherCacheTTL <= 0 {
		c.Control.WeatherCacheTTL = 15 * time.Minute
	}
	if c.Learning.MinConfidence == 0 {
		c.Learning.MinConfidence = 0.7
	}
	if c.Learning.MinSamples == 0 {
		c.Learning.MinSamples = 5
	}
	if c.Learning.HistoryDays == 0 {
		c.Learning.HistoryDays = 30
	}
	if c.Learning.Workers == 0 {
		c.Learning.Workers = 3
	}
	if c.Streams.Ticks == "" {
		c.Streams.Ticks = "bathguard_ticks"
	}
	if c.Streams.Thresholds == "" {
		c.Streams.Thresholds = "bathguard_thresholds"
	}
	if c.Streams.ConsumerGroup == "" {
		c.Streams.ConsumerGroup = "bathguard"
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "zigbee2mqtt"
	}
	if c.MQTT.StaleAfter <= 0 {
		c.MQTT.StaleAfter = 10 * time.Minute
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	if len(c.Automations) == 0 {
		return fmt.Errorf("automations cannot be empty")
	}

	seen := make(map[string]bool)
	for i, a := range c.Automations {
		if a.Name == "" {
			return fmt.Errorf("automations[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate automation name %q", a.Name)
		}
		seen[a.Name] = true

		if err := a.Validate(); err != nil {
			return fmt.Errorf("automation %q: %w", a.Name, err)
		}
		if a.Location != "" {
			if _, ok := c.Location(a.Location); !ok {
				return fmt.Errorf("automation %q: unknown location %q", a.Name, a.Location)
			}
		}
	}

	if c.Learning.MinConfidence < 0 || c.Learning.MinConfidence > 1 {
		return fmt.Errorf("learning.min_confidence must be between 0 and 1, got %.2f", c.Learning.MinConfidence)
	}
	return nil
}
