package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.FuseDebug)
	assert.Equal(t, "", cfg.Versions.Separator)
	assert.Equal(t, 128, cfg.Versions.MaxAttempts)
	assert.Equal(t, "histfs", cfg.Mount.FSName)
	assert.False(t, cfg.Mount.AllowOther)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"LOG_LEVEL":                "trace",
		"FUSE_DEBUG":               "true",
		"HISTFS_VERSION_SEPARATOR": ".v",
		"HISTFS_SNAPSHOT_ATTEMPTS": "16",
		"HISTFS_FSNAME":            "history",
		"HISTFS_ALLOW_OTHER":       "true",
		"HISTFS_STATE":             "/var/lib/histfs/profile.json",
		"HISTFS_METRICS_ADDR":      "127.0.0.1:9469",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.True(t, cfg.Logging.FuseDebug)
	assert.Equal(t, ".v", cfg.Versions.Separator)
	assert.Equal(t, 16, cfg.Versions.MaxAttempts)
	assert.Equal(t, "history", cfg.Mount.FSName)
	assert.True(t, cfg.Mount.AllowOther)
	assert.Equal(t, "/var/lib/histfs/profile.json", cfg.Mount.StateFile)
	assert.Equal(t, "127.0.0.1:9469", cfg.Metrics.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non numeric attempts", "HISTFS_SNAPSHOT_ATTEMPTS", "many"},
		{"zero attempts", "HISTFS_SNAPSHOT_ATTEMPTS", "0"},
		{"slash in separator", "HISTFS_VERSION_SEPARATOR", "/v"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}
