// Package config loads engine settings from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds the externally supplied settings of the engine. Layers
// on top of the library (demo servers, CLIs) read their own settings
// from their own sources.
type Config struct {
	DSN         string
	Timezone    string
	Environment string
}

// Load reads the configuration from the environment. A .env file is
// honored when present.
func Load() (*Config, error) {
	// ignore a missing .env, the variables may be set directly
	_ = godotenv.Load(".env")

	cfg := &Config{
		DSN:         os.Getenv("LIBRES_DSN"),
		Timezone:    os.Getenv("LIBRES_TIMEZONE"),
		Environment: os.Getenv("ENV"),
	}

	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.DSN == "" {
		return nil, fmt.Errorf("LIBRES_DSN is required but not set")
	}

	return cfg, nil
}
