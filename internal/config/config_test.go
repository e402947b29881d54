package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.TaskMaxAttempts != 4 {
		t.Errorf("expected default max attempts 4, got %d", cfg.TaskMaxAttempts)
	}
	if cfg.ReminderLongLead != 24*time.Hour {
		t.Errorf("expected 24h long reminder lead, got %s", cfg.ReminderLongLead)
	}
	if cfg.DispatchChannel != "log" {
		t.Errorf("expected log dispatch channel, got %s", cfg.DispatchChannel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASK_MAX_ATTEMPTS", "5")
	t.Setenv("REMINDER_SHORT_LEAD", "90m")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()

	if cfg.TaskMaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.TaskMaxAttempts)
	}
	if cfg.ReminderShortLead != 90*time.Minute {
		t.Errorf("expected 90m short lead, got %s", cfg.ReminderShortLead)
	}
	if !cfg.RedisTLS {
		t.Error("expected redis tls enabled")
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("TASK_POLL_INTERVAL", "often")
	cfg := Load()
	if cfg.TaskPollInterval != 15*time.Second {
		t.Errorf("expected fallback 15s, got %s", cfg.TaskPollInterval)
	}
}
