// Package http contains the management API handlers: session CRUD, health,
// migration status and metrics. The streaming path lives in internal/ws.
package http
