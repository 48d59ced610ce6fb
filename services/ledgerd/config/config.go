package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the ledger query daemon.
type Config struct {
	NodeConfigPath    string
	ListenAddress     string
	RequestsPerMinute float64
	Burst             int
	AccrueInterval    time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// LoadConfigFromEnv builds a configuration using LEDGERD_* environment
// variables. An empty ListenAddress defers to the node configuration.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		NodeConfigPath:    getenvDefault("LEDGERD_CONFIG", "config.toml"),
		ListenAddress:     strings.TrimSpace(os.Getenv("LEDGERD_LISTEN")),
		RequestsPerMinute: 600,
		Burst:             60,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}

	if raw := strings.TrimSpace(os.Getenv("LEDGERD_RATE_PER_MIN")); raw != "" {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse LEDGERD_RATE_PER_MIN: %w", err)
		}
		if val < 0 {
			return Config{}, errors.New("LEDGERD_RATE_PER_MIN must not be negative")
		}
		cfg.RequestsPerMinute = val
	}

	if raw := strings.TrimSpace(os.Getenv("LEDGERD_RATE_BURST")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse LEDGERD_RATE_BURST: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("LEDGERD_RATE_BURST must be positive")
		}
		cfg.Burst = val
	}

	if raw := strings.TrimSpace(os.Getenv("LEDGERD_ACCRUE_INTERVAL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse LEDGERD_ACCRUE_INTERVAL: %w", err)
		}
		if dur < 0 {
			return Config{}, errors.New("LEDGERD_ACCRUE_INTERVAL must not be negative")
		}
		cfg.AccrueInterval = dur
	}

	if raw := strings.TrimSpace(os.Getenv("LEDGERD_SHUTDOWN_TIMEOUT")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse LEDGERD_SHUTDOWN_TIMEOUT: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("LEDGERD_SHUTDOWN_TIMEOUT must be positive")
		}
		cfg.ShutdownTimeout = dur
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
