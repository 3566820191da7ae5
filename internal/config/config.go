// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// History backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	ServerURL     string
	AllowedOrigin string

	HistoryBackend string
	RedisURL       string
	DBPath         string
	SessionTTL     time.Duration

	ConnectTimeout time.Duration
	SettleDelay    time.Duration
	ClearGrace     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8000"),
		ServerURL:     getEnv("SERVER_URL", "http://localhost:8000"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),

		HistoryBackend: strings.ToLower(getEnv("HISTORY_BACKEND", BackendSQLite)),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DBPath:         getEnv("DB_PATH", "./data/sessions.db"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),

		ConnectTimeout: getEnvDuration("CONNECT_TIMEOUT", 5*time.Second),
		SettleDelay:    getEnvDuration("SETTLE_DELAY", 250*time.Millisecond),
		ClearGrace:     getEnvDuration("CLEAR_GRACE", 2*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL cannot be empty")
	}
	switch c.HistoryBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty with the sqlite backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL cannot be empty with the redis backend")
		}
	default:
		return fmt.Errorf("HISTORY_BACKEND must be %q or %q, got %q", BackendSQLite, BackendRedis, c.HistoryBackend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return strings.Contains(c.ServerURL, "localhost") ||
		strings.Contains(c.ServerURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
