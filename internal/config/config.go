// Package config loads runtime configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the runtime configuration of the sync client.
type Config struct {
	// ServerURL is the changes endpoint.
	ServerURL string `validate:"required,url"`
	// StatePath is the bbolt session store file.
	StatePath string `validate:"required"`
	// Token is a bearer credential; optional when the store has a cached one.
	Token string
	// Retries is the shared retry budget per send.
	Retries int `validate:"gte=0,lte=5"`
}

// Load reads KINDLER_* variables, applying defaults and validating the
// result. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerURL: os.Getenv("KINDLER_SERVER_URL"),
		StatePath: os.Getenv("KINDLER_STATE_PATH"),
		Token:     os.Getenv("KINDLER_TOKEN"),
		Retries:   2,
	}
	if v := os.Getenv("KINDLER_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("KINDLER_RETRIES: %w", err)
		}
		cfg.Retries = n
	}
	if cfg.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.StatePath = filepath.Join(home, ".config", "kindler", "state.db")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
