package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIBaseURL = "https://api.rango.exchange"
	envPrefix         = "SWAPEXEC_"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	LogLevel       string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	MaxStale       time.Duration
	NoStale        bool
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	SwapStorePath  string
	SwapLockPath   string

	APIBaseURL   string
	APIKey       string
	APIRateLimit float64

	LogLevel  string
	LogFormat string

	Confirmations int
	PollInterval  time.Duration
	WaitTimeout   time.Duration

	// EVMRPCURLs maps a blockchain name or chain id to an RPC endpoint.
	EVMRPCURLs        map[string]string
	EVMKeySource      string
	EVMGasMultiplier  float64
	SolanaRPCURL      string
	SolanaKeypairPath string

	MetricsAddr string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	API struct {
		BaseURL   string   `yaml:"base_url"`
		APIKey    string   `yaml:"api_key"`
		APIKeyEnv string   `yaml:"api_key_env"`
		RateLimit *float64 `yaml:"rate_limit"`
	} `yaml:"api"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Execution struct {
		SwapsPath     string `yaml:"swaps_path"`
		SwapsLockPath string `yaml:"swaps_lock_path"`
		Confirmations *int   `yaml:"confirmations"`
		PollInterval  string `yaml:"poll_interval"`
		WaitTimeout   string `yaml:"wait_timeout"`
		MetricsAddr   string `yaml:"metrics_addr"`
	} `yaml:"execution"`
	Signers struct {
		EVM struct {
			KeySource     string            `yaml:"key_source"`
			GasMultiplier *float64          `yaml:"gas_multiplier"`
			RPCURLs       map[string]string `yaml:"rpc_urls"`
		} `yaml:"evm"`
		Solana struct {
			RPCURL      string `yaml:"rpc_url"`
			KeypairPath string `yaml:"keypair_path"`
		} `yaml:"solana"`
	} `yaml:"signers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.Confirmations <= 0 {
		settings.Confirmations = 1
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 3 * time.Second
	}
	if settings.WaitTimeout <= 0 {
		settings.WaitTimeout = 5 * time.Minute
	}
	settings.APIBaseURL = strings.TrimRight(strings.TrimSpace(settings.APIBaseURL), "/")
	if settings.APIBaseURL == "" {
		settings.APIBaseURL = DefaultAPIBaseURL
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:       "json",
		Timeout:          10 * time.Second,
		Retries:          2,
		MaxStale:         5 * time.Minute,
		CacheEnabled:     true,
		CachePath:        cachePath,
		CacheLockPath:    lockPath,
		SwapStorePath:    filepath.Join(cacheDir, "swaps.db"),
		SwapLockPath:     filepath.Join(cacheDir, "swaps.lock"),
		APIBaseURL:       DefaultAPIBaseURL,
		APIRateLimit:     5,
		LogLevel:         "info",
		LogFormat:        "console",
		Confirmations:    1,
		PollInterval:     3 * time.Second,
		WaitTimeout:      5 * time.Minute,
		EVMRPCURLs:       map[string]string{},
		EVMKeySource:     "auto",
		EVMGasMultiplier: 1.2,
		SolanaRPCURL:     "https://api.mainnet-beta.solana.com",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "swapexec", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "swapexec")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if err := parseDurationInto(cfg.Timeout, "timeout", &settings.Timeout); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if err := parseDurationInto(cfg.Cache.MaxStale, "cache.max_stale", &settings.MaxStale); err != nil {
		return err
	}
	setIfNotEmpty(&settings.CachePath, cfg.Cache.Path)
	setIfNotEmpty(&settings.CacheLockPath, cfg.Cache.LockPath)

	setIfNotEmpty(&settings.APIBaseURL, cfg.API.BaseURL)
	setIfNotEmpty(&settings.APIKey, cfg.API.APIKey)
	if cfg.API.APIKeyEnv != "" {
		settings.APIKey = os.Getenv(cfg.API.APIKeyEnv)
	}
	if cfg.API.RateLimit != nil {
		settings.APIRateLimit = *cfg.API.RateLimit
	}

	setIfNotEmpty(&settings.LogLevel, strings.ToLower(cfg.Log.Level))
	setIfNotEmpty(&settings.LogFormat, strings.ToLower(cfg.Log.Format))

	setIfNotEmpty(&settings.SwapStorePath, cfg.Execution.SwapsPath)
	setIfNotEmpty(&settings.SwapLockPath, cfg.Execution.SwapsLockPath)
	if cfg.Execution.Confirmations != nil {
		settings.Confirmations = *cfg.Execution.Confirmations
	}
	if err := parseDurationInto(cfg.Execution.PollInterval, "execution.poll_interval", &settings.PollInterval); err != nil {
		return err
	}
	if err := parseDurationInto(cfg.Execution.WaitTimeout, "execution.wait_timeout", &settings.WaitTimeout); err != nil {
		return err
	}
	setIfNotEmpty(&settings.MetricsAddr, cfg.Execution.MetricsAddr)

	setIfNotEmpty(&settings.EVMKeySource, strings.ToLower(cfg.Signers.EVM.KeySource))
	if cfg.Signers.EVM.GasMultiplier != nil {
		settings.EVMGasMultiplier = *cfg.Signers.EVM.GasMultiplier
	}
	for chain, url := range cfg.Signers.EVM.RPCURLs {
		if strings.TrimSpace(url) != "" {
			settings.EVMRPCURLs[strings.ToUpper(strings.TrimSpace(chain))] = strings.TrimSpace(url)
		}
	}
	setIfNotEmpty(&settings.SolanaRPCURL, cfg.Signers.Solana.RPCURL)
	setIfNotEmpty(&settings.SolanaKeypairPath, cfg.Signers.Solana.KeypairPath)

	return nil
}

func applyEnv(settings *Settings) {
	if v := env("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := env("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := env("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := env("MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := env("NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := env("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	setIfNotEmpty(&settings.CachePath, env("CACHE_PATH"))
	setIfNotEmpty(&settings.CacheLockPath, env("CACHE_LOCK_PATH"))
	setIfNotEmpty(&settings.SwapStorePath, env("SWAPS_PATH"))
	setIfNotEmpty(&settings.SwapLockPath, env("SWAPS_LOCK_PATH"))

	setIfNotEmpty(&settings.APIBaseURL, env("API_URL"))
	setIfNotEmpty(&settings.APIKey, env("API_KEY"))
	if v := env("API_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.APIRateLimit = f
		}
	}

	setIfNotEmpty(&settings.LogLevel, strings.ToLower(env("LOG_LEVEL")))
	setIfNotEmpty(&settings.LogFormat, strings.ToLower(env("LOG_FORMAT")))

	if v := env("CONFIRMATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Confirmations = n
		}
	}
	if v := env("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.PollInterval = d
		}
	}
	if v := env("WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.WaitTimeout = d
		}
	}
	setIfNotEmpty(&settings.EVMKeySource, strings.ToLower(env("KEY_SOURCE")))
	if v := env("GAS_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.EVMGasMultiplier = f
		}
	}
	setIfNotEmpty(&settings.SolanaRPCURL, env("SOLANA_RPC_URL"))
	setIfNotEmpty(&settings.SolanaKeypairPath, env("SOLANA_KEYPAIR_PATH"))
	setIfNotEmpty(&settings.MetricsAddr, env("METRICS_ADDR"))

	// SWAPEXEC_RPC_<CHAIN>=url overrides one EVM endpoint.
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix+"RPC_") || strings.TrimSpace(value) == "" {
			continue
		}
		chain := strings.TrimPrefix(key, envPrefix+"RPC_")
		if chain != "" {
			settings.EVMRPCURLs[strings.ToUpper(chain)] = strings.TrimSpace(value)
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitCSV(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitCSV(flags.EnableCommands)
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.ToLower(strings.TrimSpace(flags.LogLevel))
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.LogFormat != "json" && settings.LogFormat != "console" {
		return fmt.Errorf("log format must be json or console")
	}

	return nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func setIfNotEmpty(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func parseDurationInto(v, field string, dst *time.Duration) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
