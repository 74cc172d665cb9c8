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

	assert.Equal(t, "127.0.0.1:8780", cfg.Server.Addr())
	assert.Equal(t, 20, cfg.Quota.DailyCap)
	assert.Equal(t, 3, cfg.Provider.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Confirm.SuggestionTTL)
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Provider.Primary.Configured())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
provider:
  primary:
    base_url: https://gen.example.com
    api_key: secret
quota:
  daily_cap: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://gen.example.com", cfg.Provider.Primary.BaseURL)
	assert.True(t, cfg.Provider.Primary.Configured())
	assert.Equal(t, 5, cfg.Quota.DailyCap)
	// Untouched sections keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quota:\n  daily_cap: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MUSE_QUOTA_DAILY_CAP", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Quota.DailyCap)
}
