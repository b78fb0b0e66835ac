// Package config provides application configuration loading from environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultWebAppURL is the hosted front-end opened by the bot's keyboard button.
const DefaultWebAppURL = "https://broskiv2.github.io/WebApp-Miner"

// Config holds all configuration for the application.
type Config struct {
	TelegramBotToken string
	DatabaseURL      string
	WebAppURL        string
	HTTPAddr         string
	LogLevel         string
	SweepInterval    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WebAppURL:        os.Getenv("WEBAPP_URL"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if cfg.WebAppURL == "" {
		cfg.WebAppURL = DefaultWebAppURL
	}

	cfg.HTTPAddr = ":5000"
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	cfg.SweepInterval = time.Minute
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that all required configuration is present.
func (c *Config) validate() error {
	var errs []string

	if c.TelegramBotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
