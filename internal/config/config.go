// Package config loads the barvault YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for barvault.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Provider Provider `yaml:"provider"`
	Fetch    Fetch    `yaml:"fetch"`
	Backfill Backfill `yaml:"backfill"`
	Update   Update   `yaml:"update"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

// Storage holds paths for persisted state.
type Storage struct {
	CachePath      string `yaml:"cache_path"`      // SQLite bar cache
	CheckpointPath string `yaml:"checkpoint_path"` // backfill checkpoint JSON
	ExportDir      string `yaml:"export_dir"`      // parquet export root
}

// Provider holds credentials and endpoints for the remote market-data API.
type Provider struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Exchange  string `yaml:"exchange"` // default exchange tag for cached rows
}

// Fetch controls caching, retry, and circuit-breaker behaviour.
type Fetch struct {
	TTLHours           int     `yaml:"ttl_hours"`            // cache freshness window
	MaxRetries         int     `yaml:"max_retries"`          // remote retries per call
	BaseDelayMS        int     `yaml:"base_delay_ms"`        // first backoff delay
	MaxDelayMS         int     `yaml:"max_delay_ms"`         // backoff cap
	AttemptTimeoutSec  int     `yaml:"attempt_timeout_sec"`  // per remote attempt
	BreakerThreshold   int     `yaml:"breaker_threshold"`    // consecutive failures to open
	BreakerCooldownSec int     `yaml:"breaker_cooldown_sec"` // open -> half-open wait
	RateLimitPerSec    float64 `yaml:"rate_limit_per_sec"`   // shared remote-call budget
	BatchConcurrency   int     `yaml:"batch_concurrency"`    // workers for batch fetches
}

// Backfill holds parameters for the historical population job.
type Backfill struct {
	Years     int `yaml:"years"`
	BatchSize int `yaml:"batch_size"`
}

// Update holds parameters for the incremental daily job.
type Update struct {
	LookbackDays int `yaml:"lookback_days"` // used when a symbol has no coverage
}

// Server holds the ops HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// TTL returns the cache freshness TTL as a duration, defaulting to 24h.
func (f Fetch) TTL() time.Duration {
	if f.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(f.TTLHours) * time.Hour
}

// BaseDelay returns the initial backoff delay, defaulting to 1s.
func (f Fetch) BaseDelay() time.Duration {
	if f.BaseDelayMS <= 0 {
		return time.Second
	}
	return time.Duration(f.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff cap, defaulting to 32s.
func (f Fetch) MaxDelay() time.Duration {
	if f.MaxDelayMS <= 0 {
		return 32 * time.Second
	}
	return time.Duration(f.MaxDelayMS) * time.Millisecond
}

// AttemptTimeout returns the per-attempt timeout, defaulting to 30s.
func (f Fetch) AttemptTimeout() time.Duration {
	if f.AttemptTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(f.AttemptTimeoutSec) * time.Second
}

// BreakerCooldown returns the open-to-half-open wait, defaulting to 60s.
func (f Fetch) BreakerCooldown() time.Duration {
	if f.BreakerCooldownSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(f.BreakerCooldownSec) * time.Second
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into
// a Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Storage.CachePath == "" {
		return fmt.Errorf("config: storage.cache_path is required")
	}
	if c.Storage.CheckpointPath == "" {
		return fmt.Errorf("config: storage.checkpoint_path is required")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Exchange == "" {
		cfg.Provider.Exchange = "NSE"
	}
	if cfg.Fetch.MaxRetries == 0 {
		cfg.Fetch.MaxRetries = 5
	}
	if cfg.Fetch.BreakerThreshold == 0 {
		cfg.Fetch.BreakerThreshold = 5
	}
	if cfg.Fetch.RateLimitPerSec == 0 {
		cfg.Fetch.RateLimitPerSec = 3
	}
	if cfg.Fetch.BatchConcurrency == 0 {
		cfg.Fetch.BatchConcurrency = 1
	}
	if cfg.Backfill.Years == 0 {
		cfg.Backfill.Years = 3
	}
	if cfg.Backfill.BatchSize == 0 {
		cfg.Backfill.BatchSize = 10
	}
	if cfg.Update.LookbackDays == 0 {
		cfg.Update.LookbackDays = 30
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8087
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BARVAULT_CACHE_PATH"); v != "" {
		cfg.Storage.CachePath = v
	}
	if v := os.Getenv("BARVAULT_CHECKPOINT_PATH"); v != "" {
		cfg.Storage.CheckpointPath = v
	}
	if v := os.Getenv("BARVAULT_EXPORT_DIR"); v != "" {
		cfg.Storage.ExportDir = v
	}

	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PROVIDER_API_SECRET"); v != "" {
		cfg.Provider.APISecret = v
	}
	if v := os.Getenv("PROVIDER_DATA_URL"); v != "" {
		cfg.Provider.DataURL = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("BARVAULT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Provider.APISecret = v
	}
}
