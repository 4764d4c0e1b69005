package config

import (
	"fmt"
	"log"
)

const defaultDSN = "bathguard:bathguard@tcp(localhost:3306)/bathguard?parseTime=true"

type dbEnv struct {
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT"`
	Name     string `env:"DB_NAME"`
	DSN      string `env:"DATABASE_DSN"`
}

// Returns the database connection string
// Individual DB_* variables win over DATABASE_DSN, then the local default applies
func GetDatabaseDSN() string {
	var e dbEnv
	if err := ParseEnv(&e); err != nil {
		log.Printf("Warning: %v, using default DSN", err)
		return defaultDSN
	}

	if e.User != "" && e.Password != "" && e.Host != "" && e.Port != "" && e.Name != "" {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", e.User, e.Password, e.Host, e.Port, e.Name)
	}

	if e.DSN != "" {
		return e.DSN
	}

	return defaultDSN
}
