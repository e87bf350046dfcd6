// Package config provides 12-factor configuration management for termd.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Sessions: caps, idle timeout, tail buffer, spawn timeout
//   - Storage: session record store backend selection
//   - Breaker: spawn circuit breaker thresholds
//   - Migration: feature flags for the storage migration rollout
//   - Health: warning thresholds for the health endpoint
//   - Logging: log level and output format
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
