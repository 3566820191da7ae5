package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.HistoryBackend != BackendSQLite {
		t.Errorf("HistoryBackend = %q, want sqlite", cfg.HistoryBackend)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.ConnectTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("HISTORY_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("CLEAR_GRACE", "500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9001" {
		t.Errorf("Port = %q, want 9001", cfg.Port)
	}
	if cfg.HistoryBackend != BackendRedis {
		t.Errorf("HistoryBackend = %q, want redis", cfg.HistoryBackend)
	}
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.ClearGrace != 500*time.Millisecond {
		t.Errorf("ClearGrace = %v, want 500ms", cfg.ClearGrace)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("HISTORY_BACKEND", "etcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown history backend")
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("SESSION_TTL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want default 24h", cfg.SessionTTL)
	}
}

func TestValidateRequiresSQLitePath(t *testing.T) {
	cfg := &Config{
		Port:           "8000",
		ServerURL:      "http://localhost:8000",
		HistoryBackend: BackendSQLite,
		SessionTTL:     time.Hour,
		ConnectTimeout: time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty DB_PATH")
	}
}
