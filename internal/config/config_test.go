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
	cfg := Load()
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, CacheMemory, cfg.CacheBackend)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MAX_CONCURRENT", "7")
	t.Setenv("CACHE_TTL", "90s")
	cfg := Load()
	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	body := "max_concurrent: 5\napi_base_url: http://api.internal:9000\nretry_max: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxConcurrent)
	assert.Equal(t, "http://api.internal:9000", cfg.APIBaseURL)
	assert.Equal(t, 1, cfg.RetryMax)

	// Environment still wins over the file.
	t.Setenv("MAX_CONCURRENT", "2")
	cfg, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxConcurrent)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.CacheBackend = "disk"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.APIBaseURL = "localhost:8080"
	assert.Error(t, cfg.Validate())
}
