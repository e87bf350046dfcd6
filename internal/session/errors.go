package session

import (
	"errors"

	"github.com/quantdash/termd/internal/pty"
	"github.com/quantdash/termd/internal/resilience"
)

var (
	// ErrCapacityExceeded is returned when the project or global session
	// cap is reached. Callers may retry after freeing sessions.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrNotFound is returned when attaching to an unknown or destroyed
	// session id. Callers should create a new session instead.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyAttached is returned when a second connection tries to
	// bind a session that already has one.
	ErrAlreadyAttached = errors.New("session already attached")
	// ErrStorageUnavailable marks record store failures. It is absorbed
	// internally and never surfaced to end users.
	ErrStorageUnavailable = errors.New("session store unavailable")
)

// Error codes surfaced on the HTTP and WebSocket boundaries.
const (
	CodeCapacityExceeded = "CapacityExceeded"
	CodeSpawnError       = "SpawnError"
	CodeSpawnTimeout     = "SpawnTimeout"
	CodeNotFound         = "NotFound"
	CodeCircuitOpen      = "CircuitOpen"
	CodeAlreadyAttached  = "AlreadyAttached"
	CodeUnauthorized     = "Unauthorized"
	CodeInternal         = "Internal"
)

// ErrorCode maps an error to its boundary code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyAttached):
		return CodeAlreadyAttached
	case errors.Is(err, pty.ErrSpawnTimeout):
		return CodeSpawnTimeout
	case errors.Is(err, pty.ErrWorkingDirMissing):
		return CodeSpawnError
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrAttemptTooSoon):
		return CodeCircuitOpen
	case err != nil:
		return CodeSpawnError
	default:
		return CodeInternal
	}
}
