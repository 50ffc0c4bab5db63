package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 3, cfg.Engine.Concurrency)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Engine.BaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Engine.MaxDelay)
	assert.Equal(t, 0.1, cfg.Engine.Jitter)
	assert.Equal(t, time.Duration(0), cfg.Engine.TaskTimeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.ShutdownTimeout)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "batchq_state.json", cfg.Store.Path)
	assert.Equal(t, time.Duration(0), cfg.Store.FlushInterval)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("BATCHQ_SERVER_PORT", "9090")
	t.Setenv("BATCHQ_ENGINE_CONCURRENCY", "8")
	t.Setenv("BATCHQ_ENGINE_BASE_DELAY", "250ms")
	t.Setenv("BATCHQ_STORE_BACKEND", "bolt")
	t.Setenv("BATCHQ_STORE_PATH", "/var/lib/batchq/tasks.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Engine.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.BaseDelay)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/batchq/tasks.db", cfg.Store.Path)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("BATCHQ_SERVER_LOG_LEVEL", "verbose")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "LogLevel")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("BATCHQ_STORE_BACKEND", "dynamodb")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Backend")
}

func TestLoadRejectsMissingBackendSettings(t *testing.T) {
	t.Setenv("BATCHQ_STORE_BACKEND", "postgres")
	t.Setenv("BATCHQ_STORE_DSN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN")
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	t.Setenv("BATCHQ_SERVER_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Port")
}
