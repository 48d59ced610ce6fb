package config

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"LEDGERD_CONFIG", "LEDGERD_LISTEN", "LEDGERD_RATE_PER_MIN", "LEDGERD_RATE_BURST", "LEDGERD_ACCRUE_INTERVAL", "LEDGERD_SHUTDOWN_TIMEOUT"} {
		t.Setenv(key, "")
	}
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NodeConfigPath != "config.toml" || cfg.ListenAddress != "" || cfg.RequestsPerMinute != 600 || cfg.Burst != 60 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.AccrueInterval != 0 || cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected durations %+v", cfg)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("LEDGERD_CONFIG", "/etc/nhb/ledger.toml")
	t.Setenv("LEDGERD_LISTEN", "127.0.0.1:9200")
	t.Setenv("LEDGERD_RATE_PER_MIN", "0")
	t.Setenv("LEDGERD_RATE_BURST", "5")
	t.Setenv("LEDGERD_ACCRUE_INTERVAL", "30s")
	t.Setenv("LEDGERD_SHUTDOWN_TIMEOUT", "1s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NodeConfigPath != "/etc/nhb/ledger.toml" || cfg.ListenAddress != "127.0.0.1:9200" {
		t.Fatalf("unexpected paths %+v", cfg)
	}
	if cfg.RequestsPerMinute != 0 || cfg.Burst != 5 || cfg.AccrueInterval != 30*time.Second || cfg.ShutdownTimeout != time.Second {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestLoadConfigFromEnvRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"LEDGERD_RATE_PER_MIN":     "-1",
		"LEDGERD_RATE_BURST":       "0",
		"LEDGERD_ACCRUE_INTERVAL":  "soon",
		"LEDGERD_SHUTDOWN_TIMEOUT": "0s",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := LoadConfigFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
