package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.Env != "dev" {
		t.Errorf("Env = %q, want dev", cfg.Env)
	}
	if cfg.MQTTBrokerURL != "" {
		t.Errorf("MQTTBrokerURL = %q, want empty (in-process transport)", cfg.MQTTBrokerURL)
	}
	if cfg.HeartbeatWindow != 90*time.Second {
		t.Errorf("HeartbeatWindow = %v, want 90s", cfg.HeartbeatWindow)
	}
	if cfg.AckTimeout != 10*time.Second || cfg.MaxAttempts != 3 {
		t.Errorf("dispatcher defaults = %v/%d", cfg.AckTimeout, cfg.MaxAttempts)
	}
	if cfg.TicketRetentionDays != 30 || cfg.PruneIntervalHours != 6 {
		t.Errorf("retention defaults = %d/%d", cfg.TicketRetentionDays, cfg.PruneIntervalHours)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HINGE_HTTP_ADDR", ":9090")
	t.Setenv("HINGE_ENV", "prod")
	t.Setenv("HINGE_MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("HINGE_ACK_TIMEOUT_S", "30")
	t.Setenv("HINGE_TICKET_RETENTION_DAYS", "7")

	cfg := FromEnv()
	if cfg.HTTPAddr != ":9090" || cfg.Env != "prod" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MQTTBrokerURL != "tcp://broker:1883" {
		t.Errorf("MQTTBrokerURL = %q", cfg.MQTTBrokerURL)
	}
	if cfg.AckTimeout != 30*time.Second {
		t.Errorf("AckTimeout = %v, want 30s", cfg.AckTimeout)
	}
	if cfg.TicketRetentionDays != 7 {
		t.Errorf("TicketRetentionDays = %d, want 7", cfg.TicketRetentionDays)
	}
}

func TestFromEnvFailSoft(t *testing.T) {
	t.Setenv("HINGE_ENV", "staging")
	t.Setenv("HINGE_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("HINGE_ACK_TIMEOUT_S", "-5")

	cfg := FromEnv()
	if cfg.Env != "dev" {
		t.Errorf("unknown env = %q, want fail-soft dev", cfg.Env)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", cfg.MaxAttempts)
	}
	if cfg.AckTimeout != 10*time.Second {
		t.Errorf("AckTimeout = %v, want default 10s", cfg.AckTimeout)
	}
}
