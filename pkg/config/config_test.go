package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "simulated" {
		t.Fatalf("default mode %q", cfg.Mode)
	}
	if cfg.EventLogCapacity != 2000 {
		t.Fatalf("default capacity %d", cfg.EventLogCapacity)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODE", "live")
	t.Setenv("SYMBOLS", "BTCUSDT, SOLUSDT")
	t.Setenv("ORDER_POLL_INTERVAL", "750ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "live" {
		t.Fatalf("mode %q", cfg.Mode)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[1] != "SOLUSDT" {
		t.Fatalf("symbols %v", cfg.Symbols)
	}
	if cfg.OrderPollInterval != 750*time.Millisecond {
		t.Fatalf("poll interval %v", cfg.OrderPollInterval)
	}
}

func TestInvalidModeRejected(t *testing.T) {
	t.Setenv("MODE", "paper")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestYAMLFileWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	yaml := "mode: live\nport: \"9090\"\ndb_path: /tmp/x.db\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070") // env wins over the file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "live" || cfg.DBPath != "/tmp/x.db" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Port != "7070" {
		t.Fatalf("port %q, env should override the file", cfg.Port)
	}
}
