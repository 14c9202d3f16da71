package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "DEFAULT_CURRENCY")
	unsetEnvWithCleanup(t, "EVENT_EXCHANGE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8084" {
		t.Fatalf("expected default port 8084, got %q", cfg.ServerPort)
	}
	if cfg.DefaultCurrency != "ZAR" {
		t.Fatalf("expected default currency ZAR, got %q", cfg.DefaultCurrency)
	}
	if cfg.EventExchange != "bank.events" {
		t.Fatalf("expected default exchange bank.events, got %q", cfg.EventExchange)
	}
	if cfg.OutboxBatchSize != 100 {
		t.Fatalf("expected default outbox batch 100, got %d", cfg.OutboxBatchSize)
	}
	if cfg.DefaultPageSize != 20 || cfg.MaxPageSize != 100 {
		t.Fatalf("unexpected pagination defaults: %d / %d", cfg.DefaultPageSize, cfg.MaxPageSize)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9090")
	setEnvWithCleanup(t, "DEFAULT_CURRENCY", "usd")
	setEnvWithCleanup(t, "ACCOUNT_SERVICE_URL", "http://account-service:8081")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected port override, got %q", cfg.ServerPort)
	}
	if cfg.DefaultCurrency != "USD" {
		t.Fatalf("expected currency normalized to USD, got %q", cfg.DefaultCurrency)
	}
	if cfg.AccountServiceURL != "http://account-service:8081" {
		t.Fatalf("expected account service url from env, got %q", cfg.AccountServiceURL)
	}
}

func TestLoadConfig_MaxPageSizeNeverBelowDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DEFAULT_PAGE_SIZE", "50")
	setEnvWithCleanup(t, "MAX_PAGE_SIZE", "10")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxPageSize != 50 {
		t.Fatalf("expected max page size raised to the default, got %d", cfg.MaxPageSize)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
