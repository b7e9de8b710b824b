package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration.
const DefaultPath = ".autoclose.yaml"

// Config holds all autoclose configuration.
type Config struct {
	// Generated unit settings
	Generator GeneratorConfig `yaml:"generator"`

	// Capability closure settings
	Facts FactsConfig `yaml:"facts"`

	// Incremental generation cache
	Cache CacheConfig `yaml:"cache"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Metrics export
	Metrics MetricsConfig `yaml:"metrics"`

	// Watch mode
	Watch WatchConfig `yaml:"watch"`
}

// FactsConfig configures the Mangle evaluation backing the capability model.
type FactsConfig struct {
	FactLimit int `yaml:"fact_limit"`
}

// CacheConfig configures the generation cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after each run when set.
	Textfile string `yaml:"textfile"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Generator: GeneratorConfig{
			OutputSuffix:  "_autoclose.go",
			RuntimeImport: "autoclose/pkg/lifecycle",
			Workers:       4,
		},

		Facts: FactsConfig{
			FactLimit: 100000,
		},

		Cache: CacheConfig{
			Enabled: true,
			Path:    ".autoclose/cache.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},

		Watch: WatchConfig{
			Debounce: "200ms",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if level := os.Getenv("AUTOCLOSE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("AUTOCLOSE_CACHE_PATH"); path != "" {
		c.Cache.Path = path
	}
	if workers := os.Getenv("AUTOCLOSE_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("AUTOCLOSE_WORKERS: %w", err)
		}
		c.Generator.Workers = n
	}
	if path := os.Getenv("AUTOCLOSE_METRICS_TEXTFILE"); path != "" {
		c.Metrics.Textfile = path
	}
	return nil
}

// GetDebounce returns the watch debounce as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Generator.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Facts.FactLimit < 0 {
		return fmt.Errorf("facts.fact_limit must be >= 0")
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required when the cache is enabled")
	}
	if c.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
			return fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
		}
	}
	return nil
}
