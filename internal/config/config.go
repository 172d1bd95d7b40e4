// Package config loads runtime configuration from a YAML file and
// environment variables. Priority: ENV > YAML > defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	Log    LogConfig    `yaml:"log"`
}

// RemoteConfig holds marketplace API settings. An empty base URL runs
// the engine against an in-memory loopback remote, which is useful for
// local inspection of the store and queue.
type RemoteConfig struct {
	BaseURL   string `yaml:"base_url"   env:"MARKETSYNC_REMOTE_URL"`
	AccountID string `yaml:"account_id" env:"MARKETSYNC_ACCOUNT_ID"`
	Token     string `yaml:"token"      env:"MARKETSYNC_TOKEN"`
}

// StoreConfig holds Local Store settings.
type StoreConfig struct {
	Path string `yaml:"path" env:"MARKETSYNC_DB_PATH" env-default:"marketsync.db"`
}

// SyncConfig holds orchestrator settings.
type SyncConfig struct {
	// PlanPath points to a CUE sync plan; empty uses the built-in default
	// plan.
	PlanPath  string        `yaml:"plan_path"  env:"MARKETSYNC_PLAN_PATH"`
	Interval  time.Duration `yaml:"interval"   env:"MARKETSYNC_INTERVAL"   env-default:"5m"`
	Timeout   time.Duration `yaml:"timeout"    env:"MARKETSYNC_TIMEOUT"    env-default:"30s"`
	BatchSize int           `yaml:"batch_size" env:"MARKETSYNC_BATCH_SIZE" env-default:"50"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"MARKETSYNC_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"MARKETSYNC_LOG_FORMAT" env-default:"text"`
}

// Load reads configuration from the given YAML file and the environment.
// An empty path falls back to ./marketsync.yaml when that file exists;
// otherwise ENV + defaults only. An explicit path must exist.
func Load(path string) (*Config, error) {
	var cfg Config

	explicitPath := path != ""
	if !explicitPath {
		path = "./marketsync.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field constraints after loading. Load calls it
// automatically.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Remote.BaseURL != "" && c.Remote.AccountID == "" {
		return fmt.Errorf("remote.account_id is required when remote.base_url is set")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must be >= 0 (got %v)", c.Sync.Interval)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be > 0 (got %v)", c.Sync.Timeout)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be > 0 (got %d)", c.Sync.BatchSize)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format)
	}
	return nil
}

// SlogLevel converts the configured level string to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be debug, info, warn, or error (got %q)", l.Level)
}
