package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	configPath := writeConfig(t, "output: plain\nretries: 1\n")

	t.Setenv("LLAMARISK_OUTPUT", "json")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{ConfigPath: writeConfig(t, ""), JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(GlobalFlags{ConfigPath: writeConfig(t, ""), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.CloseToLiquidationBands != 2 || settings.SoftLiquidationDust.String() != "0.1" {
		t.Fatalf("unexpected risk defaults: %d %s", settings.CloseToLiquidationBands, settings.SoftLiquidationDust)
	}
	if settings.Retries != 2 || settings.LogLevel != "warn" || settings.WatchInterval != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if filepath.Base(filepath.Dir(settings.CachePath)) != "llamarisk" {
		t.Fatalf("unexpected cache path %s", settings.CachePath)
	}
}

func TestLoadFileSections(t *testing.T) {
	configPath := writeConfig(t, `
log:
  level: debug
  format: json
rpc:
  arbitrum: https://arb.example.test
  "1": http://127.0.0.1:8545
providers:
  requests_per_second: 4
  curveprices:
    url: https://prices.example.test
risk:
  close_to_liquidation_bands: 5
  soft_liquidation_dust: "0.5"
bands:
  max_market_bands: 100
  fetch_workers: 3
revenue:
  max_pages: 2
watch:
  interval: 1m
`)
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.RPCURLs["eip155:42161"] != "https://arb.example.test" || settings.RPCURLs["eip155:1"] != "http://127.0.0.1:8545" {
		t.Fatalf("unexpected rpc overrides %v", settings.RPCURLs)
	}
	if settings.LogLevel != "debug" || settings.LogFormat != "json" {
		t.Fatalf("unexpected log settings %s %s", settings.LogLevel, settings.LogFormat)
	}
	if settings.RequestsPerSecond != 4 || settings.CurvePricesURL != "https://prices.example.test" {
		t.Fatalf("unexpected provider settings %+v", settings)
	}
	if settings.CloseToLiquidationBands != 5 || settings.SoftLiquidationDust.String() != "0.5" {
		t.Fatalf("unexpected risk settings %+v", settings)
	}
	if settings.MaxMarketBands != 100 || settings.FetchWorkers != 3 || settings.RevenueMaxPages != 2 {
		t.Fatalf("unexpected scan settings %+v", settings)
	}
	if settings.WatchInterval != time.Minute {
		t.Fatalf("unexpected watch interval %s", settings.WatchInterval)
	}
}

func TestLoadRPCFromEnv(t *testing.T) {
	t.Setenv("LLAMARISK_RPC_OPTIMISM", "https://op.example.test")
	settings, err := Load(GlobalFlags{ConfigPath: writeConfig(t, ""), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.RPCURLs["eip155:10"] != "https://op.example.test" {
		t.Fatalf("unexpected rpc overrides %v", settings.RPCURLs)
	}
}

func TestLoadRejectsInsecureEndpoint(t *testing.T) {
	configPath := writeConfig(t, "rpc:\n  ethereum: http://rpc.example.test\n")
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected plain http endpoint to be rejected")
	}
}

func TestLoadRejectsUnknownRPCChain(t *testing.T) {
	configPath := writeConfig(t, "rpc:\n  moonbase: https://rpc.example.test\n")
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected unknown chain to be rejected")
	}
}

func TestLoadRejectsNegativeThreshold(t *testing.T) {
	configPath := writeConfig(t, "risk:\n  close_to_liquidation_bands: -1\n")
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected negative threshold to be rejected")
	}
}

func TestLoadKeepsZeroDust(t *testing.T) {
	configPath := writeConfig(t, "risk:\n  soft_liquidation_dust: \"0\"\n")
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !settings.SoftLiquidationDust.IsZero() {
		t.Fatalf("expected zero dust threshold, got %s", settings.SoftLiquidationDust)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LLAMARISK_CLOSE_TO_LIQUIDATION_BANDS", "4")
	t.Setenv("LLAMARISK_WATCH_INTERVAL", "5s")
	t.Setenv("LLAMARISK_NO_CACHE", "true")
	t.Setenv("LLAMARISK_OUTPUT", "PLAIN")
	settings, err := Load(GlobalFlags{ConfigPath: writeConfig(t, ""), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.CloseToLiquidationBands != 4 || settings.WatchInterval != 5*time.Second {
		t.Fatalf("unexpected env overrides %+v", settings)
	}
	if settings.CacheEnabled || settings.OutputMode != "plain" {
		t.Fatalf("unexpected cache/output %v %s", settings.CacheEnabled, settings.OutputMode)
	}
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	t.Setenv("LLAMARISK_TIMEOUT", "soon")
	_, err := Load(GlobalFlags{ConfigPath: writeConfig(t, ""), Retries: -1})
	if err == nil || !strings.Contains(err.Error(), "LLAMARISK_TIMEOUT") {
		t.Fatalf("expected malformed env error naming the variable, got %v", err)
	}
}
