package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "TERMINAL_ID", "BACKEND_URL", "DATABASE_URL",
		"SNAPSHOT_TTL_SECONDS", "ACCESS_TOKEN_TTL_MINUTES", "BACKEND_TIMEOUT_SECONDS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port = %s, want 8080", cfg.Port)
	}
	if cfg.TerminalID != "terminal-1" {
		t.Fatalf("terminal id = %s, want terminal-1", cfg.TerminalID)
	}
	if cfg.SnapshotTTL() != 5*time.Second {
		t.Fatalf("snapshot ttl = %s, want 5s", cfg.SnapshotTTL())
	}
	if cfg.BackendTimeout() != 10*time.Second {
		t.Fatalf("backend timeout = %s, want 10s", cfg.BackendTimeout())
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %s", cfg.Address())
	}
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TERMINAL_ID", "kiosk-3")
	t.Setenv("SNAPSHOT_TTL_SECONDS", "2")
	t.Setenv("BACKEND_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()
	if cfg.Port != "9090" || cfg.TerminalID != "kiosk-3" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.SnapshotTTL() != 2*time.Second {
		t.Fatalf("snapshot ttl = %s, want 2s", cfg.SnapshotTTL())
	}
	// Unparseable or out-of-range values fall back to the defaults.
	if cfg.BackendTimeoutSeconds != 10 {
		t.Fatalf("backend timeout = %d, want fallback 10", cfg.BackendTimeoutSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl = %d, want fallback 480", cfg.AccessTokenTTLMinutes)
	}
}
