package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Session config
	assert.Equal(t, 50, cfg.Sessions.MaxSessions)
	assert.Equal(t, 5, cfg.Sessions.MaxSessionsPerProject)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 16*1024, cfg.Sessions.TailBufferSize)
	assert.Equal(t, 10*time.Second, cfg.Sessions.SpawnTimeout)

	// Storage config
	assert.Equal(t, "hybrid", cfg.Storage.Backend)

	// Breaker config
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 5*time.Second, cfg.Breaker.MinInterval)

	// Migration config
	assert.True(t, cfg.Migration.ModernCreate)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                     "9000",
		"HOST":                     "127.0.0.1",
		"MAX_SESSIONS":             "10",
		"MAX_SESSIONS_PER_PROJECT": "2",
		"SESSION_IDLE_TIMEOUT":     "5m",
		"SESSION_TAIL_BUFFER_SIZE": "8192",
		"STORAGE_BACKEND":          "memory",
		"BREAKER_FAILURE_THRESHOLD": "5",
		"MIGRATION_MODERN_CREATE":  "false",
		"LOG_LEVEL":                "debug",
		"LOG_DEV":                  "true",
	}

	for key, value := range envVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range envVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 10, cfg.Sessions.MaxSessions)
	assert.Equal(t, 2, cfg.Sessions.MaxSessionsPerProject)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 8192, cfg.Sessions.TailBufferSize)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.False(t, cfg.Migration.ModernCreate)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}
