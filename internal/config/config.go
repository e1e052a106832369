package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/llamarisk/internal/health"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/registry"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LLAMARISK_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Strict         bool
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	LogLevel       string
	LogFormat      string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Strict         bool
	Timeout        time.Duration
	Retries        int
	MaxStale       time.Duration
	NoStale        bool
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string

	LogLevel  string
	LogFormat string

	// RPCURLs overrides default JSON-RPC endpoints, keyed by CAIP-2 chain id.
	RPCURLs           map[string]string
	DefiLlamaAPIKey   string
	DefiLlamaURL      string
	CurvePricesURL    string
	RequestsPerSecond float64

	CloseToLiquidationBands int64
	SoftLiquidationDust     decimal.Decimal
	MaxMarketBands          int
	FetchWorkers            int
	RevenueMaxPages         int
	WatchInterval           time.Duration
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Strict  *bool  `yaml:"strict"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	RPC       map[string]string `yaml:"rpc"`
	Providers struct {
		RequestsPerSecond *float64 `yaml:"requests_per_second"`
		DefiLlama         struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
			URL       string `yaml:"url"`
		} `yaml:"defillama"`
		CurvePrices struct {
			URL string `yaml:"url"`
		} `yaml:"curveprices"`
	} `yaml:"providers"`
	Risk struct {
		CloseToLiquidationBands *int64 `yaml:"close_to_liquidation_bands"`
		SoftLiquidationDust     string `yaml:"soft_liquidation_dust"`
	} `yaml:"risk"`
	Bands struct {
		MaxMarketBands *int `yaml:"max_market_bands"`
		FetchWorkers   *int `yaml:"fetch_workers"`
	} `yaml:"bands"`
	Revenue struct {
		MaxPages *int `yaml:"max_pages"`
	} `yaml:"revenue"`
	Watch struct {
		Interval string `yaml:"interval"`
	} `yaml:"watch"`
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

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

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
	if settings.CloseToLiquidationBands < 0 {
		return Settings{}, fmt.Errorf("risk.close_to_liquidation_bands must be non-negative")
	}
	if settings.SoftLiquidationDust.IsNegative() {
		return Settings{}, fmt.Errorf("risk.soft_liquidation_dust must be non-negative")
	}
	if settings.WatchInterval < time.Second {
		return Settings{}, fmt.Errorf("watch interval must be at least 1s")
	}
	if err := validateEndpoints(settings); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:              "json",
		Timeout:                 10 * time.Second,
		Retries:                 2,
		MaxStale:                5 * time.Minute,
		CacheEnabled:            true,
		CachePath:               cachePath,
		CacheLockPath:           lockPath,
		LogLevel:                "warn",
		LogFormat:               "console",
		RPCURLs:                 map[string]string{},
		DefiLlamaURL:            registry.DefiLlamaCoinsURL,
		CurvePricesURL:          registry.CurvePricesURL,
		RequestsPerSecond:       10,
		CloseToLiquidationBands: health.DefaultCloseToLiquidationBands,
		SoftLiquidationDust:     health.DefaultSoftLiquidationDust,
		MaxMarketBands:          500,
		FetchWorkers:            8,
		RevenueMaxPages:         20,
		WatchInterval:           30 * time.Second,
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
	return filepath.Join(base, "llamarisk", "config.yaml"), nil
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
	dir := filepath.Join(base, "llamarisk")
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
	if cfg.Strict != nil {
		settings.Strict = *cfg.Strict
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	for chainInput, rpcURL := range cfg.RPC {
		if err := setRPCURL(settings, chainInput, rpcURL); err != nil {
			return fmt.Errorf("config rpc: %w", err)
		}
	}
	if cfg.Providers.RequestsPerSecond != nil {
		settings.RequestsPerSecond = *cfg.Providers.RequestsPerSecond
	}
	if cfg.Providers.DefiLlama.APIKey != "" {
		settings.DefiLlamaAPIKey = cfg.Providers.DefiLlama.APIKey
	}
	if cfg.Providers.DefiLlama.APIKeyEnv != "" {
		settings.DefiLlamaAPIKey = os.Getenv(cfg.Providers.DefiLlama.APIKeyEnv)
	}
	if cfg.Providers.DefiLlama.URL != "" {
		settings.DefiLlamaURL = cfg.Providers.DefiLlama.URL
	}
	if cfg.Providers.CurvePrices.URL != "" {
		settings.CurvePricesURL = cfg.Providers.CurvePrices.URL
	}
	if cfg.Risk.CloseToLiquidationBands != nil {
		settings.CloseToLiquidationBands = *cfg.Risk.CloseToLiquidationBands
	}
	if cfg.Risk.SoftLiquidationDust != "" {
		v, err := decimal.NewFromString(cfg.Risk.SoftLiquidationDust)
		if err != nil {
			return fmt.Errorf("config risk.soft_liquidation_dust: %w", err)
		}
		settings.SoftLiquidationDust = v
	}
	if cfg.Bands.MaxMarketBands != nil {
		settings.MaxMarketBands = *cfg.Bands.MaxMarketBands
	}
	if cfg.Bands.FetchWorkers != nil {
		settings.FetchWorkers = *cfg.Bands.FetchWorkers
	}
	if cfg.Revenue.MaxPages != nil {
		settings.RevenueMaxPages = *cfg.Revenue.MaxPages
	}
	if cfg.Watch.Interval != "" {
		d, err := time.ParseDuration(cfg.Watch.Interval)
		if err != nil {
			return fmt.Errorf("config watch.interval: %w", err)
		}
		settings.WatchInterval = d
	}

	return nil
}

// envReader collects the first malformed LLAMARISK_* value so applyEnv can report it.
type envReader struct {
	err error
}

func (r *envReader) lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + name))
	return v, v != "" && r.err == nil
}

func (r *envReader) fail(name string, err error) {
	r.err = fmt.Errorf("env %s%s: %w", envPrefix, name, err)
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.lookup(name); ok {
		*dst = v
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if v, ok := r.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if v, ok := r.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = d
	}
}

func (r *envReader) integer(name string, dst *int64) {
	if v, ok := r.lookup(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) float(name string, dst *float64) {
	if v, ok := r.lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(name, err)
			return
		}
		*dst = f
	}
}

func applyEnv(settings *Settings) error {
	var r envReader
	var retries, maxPages int64 = int64(settings.Retries), int64(settings.RevenueMaxPages)
	noCache := !settings.CacheEnabled

	r.str("OUTPUT", &settings.OutputMode)
	r.boolean("STRICT", &settings.Strict)
	r.duration("TIMEOUT", &settings.Timeout)
	r.integer("RETRIES", &retries)
	r.duration("MAX_STALE", &settings.MaxStale)
	r.boolean("NO_STALE", &settings.NoStale)
	r.boolean("NO_CACHE", &noCache)
	r.str("CACHE_PATH", &settings.CachePath)
	r.str("CACHE_LOCK_PATH", &settings.CacheLockPath)
	r.str("LOG_LEVEL", &settings.LogLevel)
	r.str("LOG_FORMAT", &settings.LogFormat)
	r.str("DEFILLAMA_API_KEY", &settings.DefiLlamaAPIKey)
	r.str("DEFILLAMA_URL", &settings.DefiLlamaURL)
	r.str("CURVE_PRICES_URL", &settings.CurvePricesURL)
	r.float("REQUESTS_PER_SECOND", &settings.RequestsPerSecond)
	r.integer("CLOSE_TO_LIQUIDATION_BANDS", &settings.CloseToLiquidationBands)
	r.integer("REVENUE_MAX_PAGES", &maxPages)
	r.duration("WATCH_INTERVAL", &settings.WatchInterval)
	if r.err != nil {
		return r.err
	}
	settings.OutputMode = strings.ToLower(settings.OutputMode)
	settings.Retries = int(retries)
	settings.RevenueMaxPages = int(maxPages)
	settings.CacheEnabled = !noCache

	// LLAMARISK_RPC_<CHAIN>=url, e.g. LLAMARISK_RPC_ARBITRUM or LLAMARISK_RPC_42161.
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix+"RPC_") || strings.TrimSpace(value) == "" {
			continue
		}
		if err := setRPCURL(settings, strings.TrimPrefix(name, envPrefix+"RPC_"), value); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
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
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}

	if flags.Strict {
		settings.Strict = true
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
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = flags.LogFormat
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func setRPCURL(settings *Settings, chainInput, rpcURL string) error {
	chain, err := id.ParseChain(chainInput)
	if err != nil {
		return err
	}
	if settings.RPCURLs == nil {
		settings.RPCURLs = map[string]string{}
	}
	settings.RPCURLs[chain.CAIP2] = strings.TrimSpace(rpcURL)
	return nil
}

func validateEndpoints(settings Settings) error {
	for caip2, rpcURL := range settings.RPCURLs {
		if err := registry.ValidateEndpoint(rpcURL); err != nil {
			return fmt.Errorf("rpc url for %s: %w", caip2, err)
		}
	}
	if err := registry.ValidateEndpoint(settings.DefiLlamaURL); err != nil {
		return fmt.Errorf("defillama url: %w", err)
	}
	if err := registry.ValidateEndpoint(settings.CurvePricesURL); err != nil {
		return fmt.Errorf("curve prices url: %w", err)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
