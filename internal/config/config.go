package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	Sessions  SessionConfig
	Storage   StorageConfig
	Breaker   BreakerConfig
	Migration MigrationConfig
	Health    HealthConfig
	Logging   LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	MaxSessions           int           `envconfig:"MAX_SESSIONS" default:"50"`
	MaxSessionsPerProject int           `envconfig:"MAX_SESSIONS_PER_PROJECT" default:"5"`
	IdleTimeout           time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	SweepInterval         time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
	TailBufferSize        int           `envconfig:"SESSION_TAIL_BUFFER_SIZE" default:"16384"`
	SpawnTimeout          time.Duration `envconfig:"SESSION_SPAWN_TIMEOUT" default:"10s"`
	Shell                 string        `envconfig:"SESSION_SHELL" default:""`
	AssistantShell        string        `envconfig:"SESSION_ASSISTANT_SHELL" default:""`
}

// StorageConfig holds session record store configuration.
type StorageConfig struct {
	// Backend selects the record store: "memory", "database" or "hybrid".
	Backend      string `envconfig:"STORAGE_BACKEND" default:"hybrid"`
	DatabasePath string `envconfig:"STORAGE_DATABASE_PATH" default:"/tmp/termd/sessions.db"`
}

// BreakerConfig holds circuit breaker configuration for session spawns.
type BreakerConfig struct {
	FailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"3"`
	ResetTimeout     time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"30s"`
	MinInterval      time.Duration `envconfig:"BREAKER_MIN_INTERVAL" default:"5s"`
	InitialDelay     time.Duration `envconfig:"BREAKER_INITIAL_DELAY" default:"1s"`
	BackoffFactor    float64       `envconfig:"BREAKER_BACKOFF_FACTOR" default:"2.0"`
	MaxDelay         time.Duration `envconfig:"BREAKER_MAX_DELAY" default:"1m"`
}

// MigrationConfig holds feature flags for the storage migration rollout.
type MigrationConfig struct {
	ModernCreate bool `envconfig:"MIGRATION_MODERN_CREATE" default:"true"`
	ModernLookup bool `envconfig:"MIGRATION_MODERN_LOOKUP" default:"true"`
	ModernDelete bool `envconfig:"MIGRATION_MODERN_DELETE" default:"true"`
	ModernList   bool `envconfig:"MIGRATION_MODERN_LIST" default:"true"`
}

// HealthConfig holds warning thresholds for the health endpoint.
type HealthConfig struct {
	SessionWarnCount   int `envconfig:"HEALTH_SESSION_WARN_COUNT" default:"40"`
	SuspendedWarnCount int `envconfig:"HEALTH_SUSPENDED_WARN_COUNT" default:"20"`
	MemoryWarnBytes    int `envconfig:"HEALTH_MEMORY_WARN_BYTES" default:"1048576"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "0.0.0.0",
		},
		Sessions: SessionConfig{
			MaxSessions:           50,
			MaxSessionsPerProject: 5,
			IdleTimeout:           30 * time.Minute,
			SweepInterval:         time.Minute,
			TailBufferSize:        16 * 1024,
			SpawnTimeout:          10 * time.Second,
		},
		Storage: StorageConfig{
			Backend:      "hybrid",
			DatabasePath: "/tmp/termd/sessions.db",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     30 * time.Second,
			MinInterval:      5 * time.Second,
			InitialDelay:     time.Second,
			BackoffFactor:    2.0,
			MaxDelay:         time.Minute,
		},
		Migration: MigrationConfig{
			ModernCreate: true,
			ModernLookup: true,
			ModernDelete: true,
			ModernList:   true,
		},
		Health: HealthConfig{
			SessionWarnCount:   40,
			SuspendedWarnCount: 20,
			MemoryWarnBytes:    1 << 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
