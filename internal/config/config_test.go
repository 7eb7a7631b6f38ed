package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestLoadConfig_Defaults tests the values used when nothing is set
func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("SYNC_INTERVAL", "")
	t.Setenv("API_KEYS", "")

	cfg := LoadConfig()

	assert.Equal(t, "file", cfg.StorageDriver)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, []string{"demo"}, cfg.APIKeys)
	assert.True(t, cfg.InitialOnline)
}

// TestLoadConfig_Overrides tests parsing of environment overrides
func TestLoadConfig_Overrides(t *testing.T) {
	// Arrange
	t.Setenv("API_KEYS", " a, ,b ")
	t.Setenv("INITIAL_ONLINE", "false")
	t.Setenv("RETRY_BACKOFF_MIN", "500ms")
	t.Setenv("SYNC_INTERVAL", "soon")
	t.Setenv("STORAGE_DRIVER", "sqlite")

	// Act
	cfg := LoadConfig()

	// Assert
	assert.Equal(t, []string{"a", "b"}, cfg.APIKeys)
	assert.False(t, cfg.InitialOnline)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoffMin)
	assert.Equal(t, time.Minute, cfg.SyncInterval, "invalid duration falls back")
	assert.Equal(t, "sqlite", cfg.StorageDriver)
}

// TestLoadServerConfig tests the backend defaults and overrides
func TestLoadServerConfig(t *testing.T) {
	t.Setenv("IDEMPOTENCY_WINDOW", "2h")
	t.Setenv("PORT", "")

	cfg := LoadServerConfig()

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyWindow)
	assert.Equal(t, time.Minute, cfg.IdempotencyCleanupInterval)
}

func TestSplitList(t *testing.T) {
	assert.Empty(t, splitList(""))
	assert.Equal(t, []string{"x"}, splitList("x,"))
}
