package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/tiercache/pkg/cache"
	"github.com/pario-ai/tiercache/pkg/models"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

const mib = 1 << 20

// Config holds all tiercache configuration.
type Config struct {
	Cache   CacheConfig          `yaml:"cache"`
	Log     LogConfig            `yaml:"log"`
	Metrics MetricsConfig        `yaml:"metrics"`
	Journal models.JournalConfig `yaml:"journal"`
}

// CacheConfig sizes the tiers and tunes maintenance.
type CacheConfig struct {
	L1SizeMB            int                      `yaml:"l1_size_mb"`
	L2SizeMB            int                      `yaml:"l2_size_mb"`
	L2Dir               string                   `yaml:"l2_dir"`
	Strategy            string                   `yaml:"strategy"`
	MaintenanceInterval time.Duration            `yaml:"maintenance_interval"`
	ShutdownTimeout     time.Duration            `yaml:"shutdown_timeout"`
	DemoteOnEvict       bool                     `yaml:"demote_on_evict"`
	DefaultTTLs         map[string]time.Duration `yaml:"default_ttls"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Listen    string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			L1SizeMB:            256,
			L2SizeMB:            4096,
			L2Dir:               "tiercache-l2",
			Strategy:            string(models.StrategyAdaptive),
			MaintenanceInterval: 5 * time.Minute,
			ShutdownTimeout:     5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "tiercache",
			Listen:    ":9090",
		},
		Journal: models.JournalConfig{
			Enabled:       false,
			DBPath:        "tiercache.db",
			RetentionDays: 30,
			BufferSize:    1024,
		},
	}
}

// Load reads a YAML config file, expands environment variables and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first problem found in the configuration.
func (c *Config) Validate() error {
	if c.Cache.L1SizeMB <= 0 {
		return fmt.Errorf("%w: cache.l1_size_mb must be greater than 0", ErrInvalidConfig)
	}
	if c.Cache.L2SizeMB <= 0 {
		return fmt.Errorf("%w: cache.l2_size_mb must be greater than 0", ErrInvalidConfig)
	}
	if c.Cache.L2Dir == "" {
		return fmt.Errorf("%w: cache.l2_dir is required", ErrInvalidConfig)
	}
	if _, err := models.ParseStrategy(c.Cache.Strategy); err != nil {
		return fmt.Errorf("%w: cache.strategy: %w", ErrInvalidConfig, err)
	}
	for name, ttl := range c.Cache.DefaultTTLs {
		if _, err := models.ParseCacheType(name); err != nil {
			return fmt.Errorf("%w: cache.default_ttls: %w", ErrInvalidConfig, err)
		}
		if ttl < 0 {
			return fmt.Errorf("%w: cache.default_ttls.%s must not be negative", ErrInvalidConfig, name)
		}
	}
	if c.Journal.Enabled && c.Journal.DBPath == "" {
		return fmt.Errorf("%w: journal.db_path is required when the journal is enabled", ErrInvalidConfig)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", ErrInvalidConfig)
	}
	return nil
}

// Options converts the section into cache construction parameters.
func (c CacheConfig) Options() cache.Config {
	ttls := make(map[models.CacheType]time.Duration, len(c.DefaultTTLs))
	for name, ttl := range c.DefaultTTLs {
		ttls[models.CacheType(name)] = ttl
	}
	return cache.Config{
		L1CapacityBytes:     int64(c.L1SizeMB) * mib,
		L2CapacityBytes:     int64(c.L2SizeMB) * mib,
		L2Dir:               c.L2Dir,
		Strategy:            models.Strategy(c.Strategy),
		DefaultTTLs:         ttls,
		MaintenanceInterval: c.MaintenanceInterval,
		ShutdownTimeout:     c.ShutdownTimeout,
		DemoteOnEvict:       c.DemoteOnEvict,
	}
}
