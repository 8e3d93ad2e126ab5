// Package config holds the YAML configuration for the virtual dataset
// service: where arrays live, where registrations persist, and how the
// callback runtime is constrained.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	// Array container backing the engine
	Store StoreConfig `yaml:"store"`

	// Durable registration catalog
	Catalog CatalogConfig `yaml:"catalog"`

	// Callback runtime constraints
	Runtime RuntimeConfig `yaml:"runtime"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects and configures the array container.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, dir
	Path    string `yaml:"path"`    // directory for the dir backend
}

// CatalogConfig configures the SQLite registration catalog.
type CatalogConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"` // snappy-compress stored callback source
}

// RuntimeConfig constrains callback execution.
type RuntimeConfig struct {
	AllowedImports []string `yaml:"allowed_imports"`
	Timeout        string   `yaml:"timeout"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	File   string `yaml:"file"`   // empty means stderr
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
			Path:    "data",
		},
		Catalog: CatalogConfig{
			Path:     filepath.Join("data", "catalog.db"),
			Compress: true,
		},
		Runtime: RuntimeConfig{
			AllowedImports: nil, // nil keeps the runtime's built-in allow-list
			Timeout:        "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
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

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VDS_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("VDS_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("VDS_CATALOG_PATH"); v != "" {
		c.Catalog.Path = v
	}
	if v := os.Getenv("VDS_RUNTIME_TIMEOUT"); v != "" {
		c.Runtime.Timeout = v
	}
	if v := os.Getenv("VDS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// GetRuntimeTimeout parses the callback timeout, defaulting to 30s on a bad
// or missing value.
func (c *Config) GetRuntimeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Runtime.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "dir":
		if c.Store.Path == "" {
			return fmt.Errorf("store: dir backend requires a path")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}

	if c.Runtime.Timeout != "" {
		if _, err := time.ParseDuration(c.Runtime.Timeout); err != nil {
			return fmt.Errorf("runtime: bad timeout: %w", err)
		}
	}
	return nil
}
