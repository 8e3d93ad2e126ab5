package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.True(t, cfg.Catalog.Compress)
	assert.Equal(t, 30*time.Second, cfg.GetRuntimeTimeout())
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vds.yaml")

	cfg := DefaultConfig()
	cfg.Store.Backend = "dir"
	cfg.Store.Path = "/srv/arrays"
	cfg.Runtime.Timeout = "5s"
	cfg.Logging.Level = "debug"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dir", loaded.Store.Backend)
	assert.Equal(t, "/srv/arrays", loaded.Store.Path)
	assert.Equal(t, 5*time.Second, loaded.GetRuntimeTimeout())
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VDS_STORE_BACKEND", "dir")
	t.Setenv("VDS_STORE_PATH", "/tmp/arrays")
	t.Setenv("VDS_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dir", cfg.Store.Backend)
	assert.Equal(t, "/tmp/arrays", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vds.yaml")
	cfg := DefaultConfig()
	cfg.Logging.Level = "info"
	require.NoError(t, cfg.Save(path))

	t.Setenv("VDS_LOG_LEVEL", "error")
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", loaded.Logging.Level)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Store.Backend = "s3"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.Backend = "dir"
	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Runtime.Timeout = "soon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestGetRuntimeTimeoutBadValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Runtime.Timeout = "not-a-duration"
	assert.Equal(t, 30*time.Second, cfg.GetRuntimeTimeout())
}

func TestLoadUnparsableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
