// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// EnrichmentConfig governs the worker pool and fetch pipeline.
type EnrichmentConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	BatchSize           int     `mapstructure:"batch_size"`
	Concurrency         int     `mapstructure:"concurrency"`
	FreshnessDays       int     `mapstructure:"freshness_days"`
	RateLimitMs         int     `mapstructure:"rate_limit_ms"`
	ProbeTimeoutSeconds int     `mapstructure:"probe_timeout_seconds"`
	FetchTimeoutSeconds int     `mapstructure:"fetch_timeout_seconds"`
	UserAgent           string  `mapstructure:"user_agent"`
	DomainQPS           float64 `mapstructure:"domain_qps"`
}

// StorageConfig selects and configures the record store provider.
type StorageConfig struct {
	Provider string         `mapstructure:"provider"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig holds local database settings.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to a shared relational database.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKSMITH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8750)

	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.batch_size", 20)
	v.SetDefault("enrichment.concurrency", 3)
	v.SetDefault("enrichment.freshness_days", 30)
	v.SetDefault("enrichment.rate_limit_ms", 50)
	v.SetDefault("enrichment.probe_timeout_seconds", 5)
	v.SetDefault("enrichment.fetch_timeout_seconds", 10)
	v.SetDefault("enrichment.user_agent", "marksmith/1.0 (+https://github.com/kberan/marksmith)")
	v.SetDefault("enrichment.domain_qps", 2.0)

	v.SetDefault("storage.provider", "sqlite")
	v.SetDefault("storage.sqlite.path", "data/marksmith.db")
	v.SetDefault("storage.postgres.max_open_conns", 8)

	v.SetDefault("logging.development", false)
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Enrichment.BatchSize <= 0 {
		return fmt.Errorf("enrichment.batch_size must be > 0")
	}
	if c.Enrichment.Concurrency <= 0 {
		return fmt.Errorf("enrichment.concurrency must be > 0")
	}
	if c.Enrichment.FreshnessDays < 0 {
		return fmt.Errorf("enrichment.freshness_days must be >= 0")
	}
	if c.Enrichment.RateLimitMs < 0 {
		return fmt.Errorf("enrichment.rate_limit_ms must be >= 0")
	}
	if c.Enrichment.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("enrichment.probe_timeout_seconds must be > 0")
	}
	if c.Enrichment.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("enrichment.fetch_timeout_seconds must be > 0")
	}
	if c.Enrichment.UserAgent == "" {
		return fmt.Errorf("enrichment.user_agent must be set")
	}
	if c.Enrichment.DomainQPS < 0 {
		return fmt.Errorf("enrichment.domain_qps must be >= 0")
	}
	switch c.Storage.Provider {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	return nil
}

// FreshnessWindow returns the duration after which a checked bookmark becomes
// eligible again.
func (c EnrichmentConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessDays) * 24 * time.Hour
}

// ProbeTimeout returns the per-attempt liveness probe bound.
func (c EnrichmentConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// FetchTimeout returns the metadata fetch bound.
func (c EnrichmentConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// DispatchPause returns the inter-dispatch pause inserted between successive
// claims within one worker.
func (c EnrichmentConfig) DispatchPause() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}
