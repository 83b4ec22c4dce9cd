// Package config loads histfs settings from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Logging  LogConfig
	Versions VersionConfig
	Mount    MountConfig
	Metrics  MetricsConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string `envconfig:"LOG_LEVEL" default:"info"`
	FuseDebug bool   `envconfig:"FUSE_DEBUG" default:"false"`
}

// VersionConfig controls snapshot naming and allocation.
type VersionConfig struct {
	Separator   string `envconfig:"HISTFS_VERSION_SEPARATOR" default:""`
	MaxAttempts int    `envconfig:"HISTFS_SNAPSHOT_ATTEMPTS" default:"128"`
}

// MountConfig holds FUSE mount options and the optional profile file.
type MountConfig struct {
	FSName     string `envconfig:"HISTFS_FSNAME" default:"histfs"`
	AllowOther bool   `envconfig:"HISTFS_ALLOW_OTHER" default:"false"`
	StateFile  string `envconfig:"HISTFS_STATE" default:""`
}

// MetricsConfig holds the metrics listener configuration. An empty
// address disables the listener.
type MetricsConfig struct {
	Addr string `envconfig:"HISTFS_METRICS_ADDR" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level: "info",
		},
		Versions: VersionConfig{
			MaxAttempts: 128,
		},
		Mount: MountConfig{
			FSName: "histfs",
		},
	}
}

// Validate rejects settings the filesystem cannot run with.
func (c *Config) Validate() error {
	if c.Versions.MaxAttempts < 1 {
		return fmt.Errorf("snapshot attempts must be at least 1, got %d", c.Versions.MaxAttempts)
	}
	for _, r := range c.Versions.Separator {
		if r == '/' || r == 0 {
			return fmt.Errorf("version separator %q may not contain '/' or NUL", c.Versions.Separator)
		}
	}
	if c.Mount.FSName == "" {
		return fmt.Errorf("filesystem name must not be empty")
	}
	return nil
}
