package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for deckstore.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

type StorageConfig struct {
	Durable  DurableConfig  `yaml:"durable"`
	Fallback FallbackConfig `yaml:"fallback"`
	Cache    CacheConfig    `yaml:"cache"`
}

// DurableConfig selects and configures the primary tier. Driver is "s3" or
// "sqlite"; when the durable tier is disabled the facade runs on the fallback
// tier alone.
type DurableConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"`
	Timeout time.Duration `yaml:"timeout"`
	S3      S3Config      `yaml:"s3"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type FallbackConfig struct {
	Dir string `yaml:"dir"`
}

type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file, resolving $include
// directives and environment variable references.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given: no durable
// tier, local fallback under ./deckstore-data.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Durable.Driver == "" {
		cfg.Storage.Durable.Driver = "s3"
	}
	if cfg.Storage.Durable.Timeout == 0 {
		cfg.Storage.Durable.Timeout = 5 * time.Second
	}
	if cfg.Storage.Durable.S3.Region == "" {
		cfg.Storage.Durable.S3.Region = "us-east-1"
	}
	if cfg.Storage.Durable.SQLite.Path == "" {
		cfg.Storage.Durable.SQLite.Path = "deckstore.db"
	}
	if cfg.Storage.Fallback.Dir == "" {
		cfg.Storage.Fallback.Dir = "deckstore-data"
	}
	if cfg.Storage.Cache.TTL == 0 {
		cfg.Storage.Cache.TTL = 5 * time.Minute
	}
	if cfg.Storage.Cache.MaxEntries == 0 {
		cfg.Storage.Cache.MaxEntries = 100
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	switch driver := strings.ToLower(strings.TrimSpace(c.Storage.Durable.Driver)); driver {
	case "s3":
		if c.Storage.Durable.Enabled && strings.TrimSpace(c.Storage.Durable.S3.Bucket) == "" {
			return fmt.Errorf("storage.durable.s3.bucket is required when the s3 driver is enabled")
		}
	case "sqlite":
		// path has a default
	default:
		return fmt.Errorf("storage.durable.driver must be s3 or sqlite, got %q", c.Storage.Durable.Driver)
	}

	if c.Storage.Cache.TTL < 0 {
		return fmt.Errorf("storage.cache.ttl must not be negative")
	}
	if c.Storage.Cache.MaxEntries < 0 {
		return fmt.Errorf("storage.cache.max_entries must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}
