package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SWAPEXEC_OUTPUT", "json")
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
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadExecutionAndSignerSettings(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := `
api:
  base_url: https://api.example.test/
  api_key_env: TEST_SWAP_API_KEY
  rate_limit: 2.5
log:
  level: debug
  format: json
execution:
  confirmations: 3
  poll_interval: 500ms
  wait_timeout: 2m
signers:
  evm:
    key_source: keystore
    gas_multiplier: 1.5
    rpc_urls:
      eth: https://eth.example.test
  solana:
    rpc_url: https://sol.example.test
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_SWAP_API_KEY", "secret")
	t.Setenv("SWAPEXEC_RPC_BSC", "https://bsc.example.test")
	t.Setenv("SWAPEXEC_CONFIRMATIONS", "4")

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.APIBaseURL != "https://api.example.test" || settings.APIKey != "secret" || settings.APIRateLimit != 2.5 {
		t.Fatalf("unexpected api settings: %+v", settings)
	}
	if settings.LogLevel != "debug" || settings.LogFormat != "json" {
		t.Fatalf("unexpected log settings: %s/%s", settings.LogLevel, settings.LogFormat)
	}
	if settings.Confirmations != 4 {
		t.Fatalf("expected env confirmations to win, got %d", settings.Confirmations)
	}
	if settings.PollInterval != 500*time.Millisecond || settings.WaitTimeout != 2*time.Minute {
		t.Fatalf("unexpected timings: %s/%s", settings.PollInterval, settings.WaitTimeout)
	}
	if settings.EVMKeySource != "keystore" || settings.EVMGasMultiplier != 1.5 {
		t.Fatalf("unexpected evm signer settings: %s/%v", settings.EVMKeySource, settings.EVMGasMultiplier)
	}
	if settings.EVMRPCURLs["ETH"] != "https://eth.example.test" || settings.EVMRPCURLs["BSC"] != "https://bsc.example.test" {
		t.Fatalf("unexpected rpc overrides: %v", settings.EVMRPCURLs)
	}
	if settings.SolanaRPCURL != "https://sol.example.test" {
		t.Fatalf("unexpected solana rpc: %s", settings.SolanaRPCURL)
	}
}

func TestLoadDefaultsUseXDGPaths(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))

	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.SwapStorePath != filepath.Join(tmp, "cache", "swapexec", "swaps.db") {
		t.Fatalf("unexpected swap store path: %s", settings.SwapStorePath)
	}
	if settings.APIBaseURL != DefaultAPIBaseURL || settings.Confirmations != 1 || settings.EVMGasMultiplier != 1.2 {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	t.Setenv("SWAPEXEC_LOG_FORMAT", "xml")
	if _, err := Load(GlobalFlags{Retries: -1}); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
