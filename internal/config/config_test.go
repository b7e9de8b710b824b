package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"AUTOCLOSE_LOG_LEVEL", "AUTOCLOSE_CACHE_PATH", "AUTOCLOSE_WORKERS", "AUTOCLOSE_METRICS_TEXTFILE"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "_autoclose.go", cfg.Generator.OutputSuffix)
	assert.Equal(t, "autoclose/pkg/lifecycle", cfg.Generator.RuntimeImport)
	assert.Equal(t, 4, cfg.Generator.Workers)
	assert.True(t, cfg.Cache.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "autoclose.yaml")

	cfg := DefaultConfig()
	cfg.Generator.Workers = 9
	cfg.Generator.FailOnWarning = true
	cfg.Logging.Categories = map[string]bool{"watch": false}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.False(t, loaded.Logging.IsCategoryEnabled("watch"))
	assert.True(t, loaded.Logging.IsCategoryEnabled("engine"))
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "autoclose.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 4, cfg.Generator.Workers)
}

func TestLoad_Malformed(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "autoclose.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generator: [oops"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUTOCLOSE_LOG_LEVEL", "warn")
	t.Setenv("AUTOCLOSE_CACHE_PATH", "/tmp/c.db")
	t.Setenv("AUTOCLOSE_WORKERS", "2")
	t.Setenv("AUTOCLOSE_METRICS_TEXTFILE", "/tmp/autoclose.prom")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/tmp/c.db", cfg.Cache.Path)
	assert.Equal(t, 2, cfg.Generator.Workers)
	assert.Equal(t, "/tmp/autoclose.prom", cfg.Metrics.Textfile)

	t.Setenv("AUTOCLOSE_WORKERS", "many")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Generator.Workers = -1 }},
		{"bad suffix", func(c *Config) { c.Generator.OutputSuffix = ".txt" }},
		{"bad header", func(c *Config) { c.Generator.Header = "generated" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative fact limit", func(c *Config) { c.Facts.FactLimit = -5 }},
		{"cache without path", func(c *Config) { c.Cache.Path = "" }},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_GetDebounce(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 200*time.Millisecond, cfg.GetDebounce())
	cfg.Watch.Debounce = "1s"
	assert.Equal(t, time.Second, cfg.GetDebounce())
	cfg.Watch.Debounce = "garbage"
	assert.Equal(t, 200*time.Millisecond, cfg.GetDebounce())
}
