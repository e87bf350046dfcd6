package session

import (
	"time"

	"github.com/quantdash/termd/internal/pty"
)

// Kind selects the startup command and working-directory defaults.
type Kind string

const (
	// KindInteractive is a user-driven shell.
	KindInteractive Kind = "interactive-shell"
	// KindAssistant is a shell driven by the AI chat feature.
	KindAssistant Kind = "assistant-shell"
)

// Valid reports whether the kind is one of the known values.
func (k Kind) Valid() bool {
	return k == KindInteractive || k == KindAssistant
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusClosed       Status = "closed"
	StatusErrored      Status = "errored"
)

// Live reports whether a session in this status owns a process.
func (s Status) Live() bool {
	return s == StatusInitializing || s == StatusActive || s == StatusSuspended
}

// Record is the storage-backend-agnostic projection of a session. The live
// process handle and the in-memory tail buffer never cross the storage
// boundary.
type Record struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	OwnerID          string    `json:"owner_id"`
	Kind             Kind      `json:"kind"`
	WorkingDirectory string    `json:"working_directory"`
	Status           Status    `json:"status"`
	IsFocused        bool      `json:"is_focused"`
	Cols             int       `json:"cols"`
	Rows             int       `json:"rows"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
}

// Store persists session records. Implementations live in internal/store;
// the migration coordinator is also a Store and routes between two of them.
type Store interface {
	Put(record Record) error
	Get(id string) (Record, bool, error)
	Delete(id string) error
	List(projectID string) ([]Record, error)
	Close() error
}

// Sink receives a session's live output while a connection is attached.
// Implementations must not block indefinitely; slow consumers stall only
// their own session's pump.
type Sink interface {
	Output(data []byte)
	Exit(status pty.ExitStatus)
}

// DetachReason tells the manager what a connection close means.
type DetachReason string

const (
	// DetachReconnectable keeps the process alive for reconnection.
	DetachReconnectable DetachReason = "reconnectable"
	// DetachTerminal destroys the session.
	DetachTerminal DetachReason = "terminal"
)

// CreateRequest carries the parameters for a new session.
type CreateRequest struct {
	ProjectID        string
	OwnerID          string
	WorkingDirectory string
	Kind             Kind
	Cols             int
	Rows             int
}

// Stats is the aggregate view served by the health endpoint.
type Stats struct {
	Total       int   `json:"total"`
	Active      int   `json:"active"`
	Suspended   int   `json:"suspended"`
	MemoryBytes int64 `json:"memory_bytes"`
}
