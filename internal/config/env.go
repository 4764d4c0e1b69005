package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads tagged struct fields from environment variables
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

type MQTTConfig struct {
	Broker   string `env:"MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	ClientID string `env:"MQTT_CLIENT_ID" envDefault:"bathguard"`
	Username string `env:"MQTT_USERNAME"`
	Password string `env:"MQTT_PASSWORD"`
}

func GetMQTTConfig() (MQTTConfig, error) {
	var cfg MQTTConfig
	if err := ParseEnv(&cfg); err != nil {
		return MQTTConfig{}, err
	}
	return cfg, nil
}
