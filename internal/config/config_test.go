package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MESSAGE_COST_CENTS")
	unsetEnvWithCleanup(t, "MESSAGE_COST")
	unsetEnvWithCleanup(t, "MAX_TOPUP_CENTS")
	unsetEnvWithCleanup(t, "MAX_TOPUP")
	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MessageCostCents != 1 {
		t.Fatalf("expected default message cost of 1 cent, got %d", cfg.MessageCostCents)
	}
	if cfg.MaxTopUpCents != 2000 {
		t.Fatalf("expected default top-up cap of 2000 cents, got %d", cfg.MaxTopUpCents)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_MessageCostWholeUnitAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MESSAGE_COST_CENTS")
	setEnvWithCleanup(t, "MESSAGE_COST", "0.05")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MessageCostCents != 5 {
		t.Fatalf("expected MESSAGE_COST=0.05 to yield 5 cents, got %d", cfg.MessageCostCents)
	}
}

func TestLoadConfig_NonPositiveMessageCostIsCoerced(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MESSAGE_COST")
	setEnvWithCleanup(t, "MESSAGE_COST_CENTS", "-3")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MessageCostCents != 1 {
		t.Fatalf("expected negative cost to coerce to 1 cent, got %d", cfg.MessageCostCents)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to take precedence, got %q", cfg.ServerPort)
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
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
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
			os.Setenv(key, prev)
		}
	})
}
