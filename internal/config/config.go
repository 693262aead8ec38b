// Package config loads rekindle's YAML configuration with environment
// overrides. The provider API key resolves config-first, then the
// GEMINI_API_KEY environment variable.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the rekindle service and CLI.
type Config struct {
	// Listen is the address the relay binds to, host:port.
	Listen string `yaml:"listen"`
	// Database is the path to the sqlite document store.
	Database string `yaml:"database"`

	Provider ProviderConfig `yaml:"provider"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig selects the upstream language model.
type ProviderConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:   "127.0.0.1:8787",
		Database: "rekindle.db",
		Provider: ProviderConfig{
			Model: "gemini-2.5-flash",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, falling back to defaults when the file
// does not exist, then applies environment overrides. A present but
// unreadable or malformed file is an error, not a silent fallback.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file is fine; env vars may still configure everything.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Listen == "" {
		return nil, fmt.Errorf("config: listen address is empty")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("config: database path is empty")
	}
	return cfg, nil
}

// applyEnv layers environment variables over file values.
// Priority: env var > config file > default.
func (c *Config) applyEnv() {
	if v := os.Getenv("REKINDLE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("REKINDLE_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("REKINDLE_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("REKINDLE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}
