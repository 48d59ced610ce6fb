package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8090" || cfg.Ledger.QuoteKind != "NHB" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload default: %v", err)
	}
	if again.DataDir != cfg.DataDir || again.Ledger.MaxDebtRatio != cfg.Ledger.MaxDebtRatio {
		t.Fatalf("reloaded config differs: %+v", again)
	}
}

func TestLoadParsesLedgerSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `ListenAddress = "127.0.0.1:9100"
DataDir = "./data"
Environment = "test"
PausedModules = ["ledger"]

[telemetry]
Endpoint = "collector:4318"
Insecure = true
Headers = "x-api-key=abc"
Traces = true

[ledger]
QuoteKind = "ZNHB"
MaxDebtRatio = "0.75"
InterestCurve = "conservative"

[[ledger.asset]]
Kind = "ETH"
MarginRatio = "0.15"
Oracle = "fixed"
OracleData = "2000"

[[ledger.asset]]
Kind = "LP"
Oracle = "basket"
OracleData = "ZNHB:10,ETH:1"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9100" || cfg.Environment != "test" {
		t.Fatalf("unexpected node settings: %+v", cfg)
	}
	if !cfg.Pauses().IsPaused("Ledger") {
		t.Fatalf("ledger should be paused")
	}
	if cfg.Ledger.QuoteKind != "ZNHB" || cfg.Ledger.MaxDebtRatio != "0.75" {
		t.Fatalf("unexpected ledger settings: %+v", cfg.Ledger)
	}
	if cfg.Ledger.MaxExchangeRateAdjustRatio != "0.01" {
		t.Fatalf("blank ledger fields should default, got %q", cfg.Ledger.MaxExchangeRateAdjustRatio)
	}
	if len(cfg.Ledger.Assets) != 2 || cfg.Ledger.Assets[1].OracleData != "ZNHB:10,ETH:1" {
		t.Fatalf("unexpected assets: %+v", cfg.Ledger.Assets)
	}
	if !cfg.Telemetry.Enabled() {
		t.Fatalf("telemetry should be enabled")
	}
	otelCfg := cfg.Telemetry.OTel("ledgerd", cfg.Environment)
	if otelCfg.Headers["x-api-key"] != "abc" || otelCfg.Metrics || !otelCfg.Traces {
		t.Fatalf("unexpected otel config: %+v", otelCfg)
	}
	if got := cfg.LedgerDBPath(); got != filepath.Join("./data", "ledger") {
		t.Fatalf("ledger db path %q", got)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "ListenAddress = \":8090\"\nRPCAddress = \":8080\"\n",
		"bad listen":    "ListenAddress = \"8090\"\n",
		"bad ratio":     "[ledger]\nMaxDebtRatio = \"1.5\"\n",
		"unknown curve": "[ledger]\nInterestCurve = \"cubic\"\n",
		"url endpoint":  "[telemetry]\nEndpoint = \"http://collector:4318\"\nTraces = true\n",
		"bad oracle":    "[[ledger.asset]]\nKind = \"ETH\"\nOracle = \"chainlink\"\n",
		"sample ratio":  "[telemetry]\nSampleRatio = 2.0\n",
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadReportsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("GenesisFile = \"genesis.json\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "GenesisFile") {
		t.Fatalf("expected unknown key error naming GenesisFile, got %v", err)
	}
}
