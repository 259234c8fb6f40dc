package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAgent_Defaults(t *testing.T) {
	t.Setenv("DISHLY_TOKEN_BACKEND", "memory")

	cfg, err := LoadAgent()
	if err != nil {
		t.Fatalf("LoadAgent failed: %v", err)
	}

	if cfg.WarningWindow() != 5*time.Minute {
		t.Errorf("Expected 5m warning window, got %s", cfg.WarningWindow())
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("Expected 60s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.TokenKey != "dishly:token" {
		t.Errorf("Expected default token key, got %q", cfg.TokenKey)
	}
	if cfg.TokenFile == "" {
		t.Error("Expected default token file to be filled in")
	}
}

func TestLoadAgent_Overrides(t *testing.T) {
	t.Setenv("DISHLY_TOKEN_BACKEND", "redis")
	t.Setenv("DISHLY_REDIS_ADDR", "cache:6379")
	t.Setenv("DISHLY_WARNING_WINDOW_SECONDS", "120")
	t.Setenv("DISHLY_POLL_INTERVAL", "15s")

	cfg, err := LoadAgent()
	if err != nil {
		t.Fatalf("LoadAgent failed: %v", err)
	}
	if cfg.RedisAddr != "cache:6379" {
		t.Errorf("Expected redis addr override, got %q", cfg.RedisAddr)
	}
	if cfg.WarningWindow() != 2*time.Minute {
		t.Errorf("Expected 2m warning window, got %s", cfg.WarningWindow())
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("Expected 15s poll interval, got %s", cfg.PollInterval)
	}
}

func TestAgentValidate_ReportsAllProblems(t *testing.T) {
	cfg := &Agent{
		TokenBackend: "floppy",
		PollInterval: 0,
		HTTPTimeout:  time.Second,
		APIBaseURL:   "http://localhost",
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "floppy") {
		t.Errorf("Expected backend problem in %q", msg)
	}
	if !strings.Contains(msg, "DISHLY_POLL_INTERVAL") {
		t.Errorf("Expected poll interval problem in %q", msg)
	}
}

func TestLoadEmulator_RequiresSecret(t *testing.T) {
	t.Setenv("FAKEAPI_JWT_SECRET", "")
	if _, err := LoadEmulator(); err == nil {
		t.Fatal("Expected error without FAKEAPI_JWT_SECRET")
	}

	t.Setenv("FAKEAPI_JWT_SECRET", "dev-secret")
	t.Setenv("FAKEAPI_SEED_USERS", "carol:pw")
	cfg, err := LoadEmulator()
	if err != nil {
		t.Fatalf("LoadEmulator failed: %v", err)
	}
	if len(cfg.SeedUsers) != 1 || cfg.SeedUsers[0] != "carol:pw" {
		t.Errorf("Expected seed users [carol:pw], got %v", cfg.SeedUsers)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
}
