// Package config provides unified configuration for the relmeta backend.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for a relmeta backend process.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// CatalogPath is the path to the partition catalog database.
	// Defaults to <data_dir>/catalog.db.
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`

	// Cache configuration
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// CacheConfig holds partition cache configuration.
type CacheConfig struct {
	// EnableBoundsCache toggles the per-partition bounds cache. When off,
	// bounds are recomputed from the owning descriptor on every check.
	EnableBoundsCache bool `json:"enable_bounds_cache" yaml:"enable_bounds_cache"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Pretty enables human-readable console output instead of JSON
	Pretty bool `json:"pretty" yaml:"pretty"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/relmeta",
		Cache: CacheConfig{
			EnableBoundsCache: true,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/relmeta"
	}
	if c.CatalogPath == "" {
		c.CatalogPath = filepath.Join(c.DataDir, "catalog.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment if one exists.
// Missing files are not an error.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the RELMETA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("RELMETA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RELMETA_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("RELMETA_ENABLE_BOUNDS_CACHE"); v != "" {
		cfg.Cache.EnableBoundsCache = v == "true" || v == "1"
	}
	if v := os.Getenv("RELMETA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RELMETA_LOG_PRETTY"); v != "" {
		cfg.Log.Pretty = v == "true" || v == "1"
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.CatalogPath),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
