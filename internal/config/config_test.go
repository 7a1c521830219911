package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, "segments", cfg.Storage.SegmentDir)
	assert.False(t, cfg.Storage.InMemory)
	assert.Equal(t, "recarr.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 60*time.Second, cfg.Download.HTTPTimeout)
	assert.Equal(t, 3, cfg.Download.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Download.RetryDelay)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("RECARR_STORAGE_BASE_DIR", "/var/lib/recarr")
	t.Setenv("RECARR_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/recarr", cfg.Storage.BaseDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("storage:\n  base_dir: /tmp/recordings\ndownload:\n  retry_attempts: 5\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/recordings", cfg.Storage.BaseDir)
	assert.Equal(t, 5, cfg.Download.RetryAttempts)
	// Untouched keys keep their defaults.
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("missing base dir", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.BaseDir = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log format", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Format = "xml"
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative retries", func(t *testing.T) {
		cfg := valid()
		cfg.Download.RetryAttempts = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestSegmentPath(t *testing.T) {
	cfg := StorageConfig{BaseDir: "/data", SegmentDir: "segments"}
	assert.Equal(t, filepath.Join("/data", "segments"), cfg.SegmentPath())
}
