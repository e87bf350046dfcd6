package session

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantdash/termd/internal/logging"
	"github.com/quantdash/termd/internal/pty"
	"github.com/quantdash/termd/internal/shared/id"
)

// Config bounds the manager's resource usage.
type Config struct {
	MaxSessions           int
	MaxSessionsPerProject int
	IdleTimeout           time.Duration
	SweepInterval         time.Duration
	TailBufferSize        int
	SpawnTimeout          time.Duration
	Shell                 string
	AssistantShell        string
	Strategy              pty.Strategy
}

// Manager owns the session map and every session's lifecycle. It is
// constructed per process and injected; there are no package-level
// registries. All map mutations go through Create, Attach, Detach and
// Destroy, which are atomic with respect to each other for the same id.
type Manager struct {
	cfg   Config
	store Store
	log   *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*liveSession
	closed   bool
}

// liveSession pairs a record with its process adapter and tail buffer.
type liveSession struct {
	mu        sync.Mutex
	record    Record
	adapter   *pty.Adapter
	ring      *Ring
	sink      Sink
	attached  id.ConnID
	destroyed bool
}

// NewManager creates a session manager backed by the given record store.
func NewManager(cfg Config, store Store, log *logging.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 50
	}
	if cfg.MaxSessionsPerProject <= 0 {
		cfg.MaxSessionsPerProject = 5
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.TailBufferSize <= 0 {
		cfg.TailBufferSize = DefaultTailSize
	}
	if log == nil {
		log = logging.NewNop()
	}

	return &Manager{
		cfg:      cfg,
		store:    store,
		log:      log.Named("session"),
		sessions: make(map[string]*liveSession),
	}
}

// Create allocates an id, stores an initializing record, spawns the shell
// process and transitions the session to active. It rejects with
// ErrCapacityExceeded before spawning anything when a cap is reached.
func (m *Manager) Create(req CreateRequest) (Record, error) {
	kind := req.Kind
	if !kind.Valid() {
		kind = KindInteractive
	}

	workingDir := validateWorkingDir(req.WorkingDirectory)

	now := time.Now()
	record := Record{
		ID:               string(id.NewSessionID()),
		ProjectID:        req.ProjectID,
		OwnerID:          req.OwnerID,
		Kind:             kind,
		WorkingDirectory: workingDir,
		Status:           StatusInitializing,
		Cols:             req.Cols,
		Rows:             req.Rows,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastActivityAt:   now,
	}

	ls := &liveSession{
		record: record,
		ring:   NewRing(m.cfg.TailBufferSize),
	}

	// Reserve the slot under the map lock so concurrent creates see it.
	// Eviction drops the lock to finalize the victim, so shutdown and both
	// caps are re-checked on every pass.
	m.mu.Lock()
	for {
		if m.closed {
			m.mu.Unlock()
			return Record{}, ErrNotFound
		}
		projectCount, globalCount := m.countLocked(req.ProjectID)
		if projectCount >= m.cfg.MaxSessionsPerProject {
			m.mu.Unlock()
			return Record{}, ErrCapacityExceeded
		}
		if globalCount < m.cfg.MaxSessions {
			break
		}
		victim := m.oldestIdleLocked()
		if victim == nil {
			m.mu.Unlock()
			return Record{}, ErrCapacityExceeded
		}
		delete(m.sessions, victim.record.ID)
		m.mu.Unlock()
		m.finalize(victim, "evicted")
		m.mu.Lock()
	}
	m.sessions[record.ID] = ls
	m.mu.Unlock()

	m.persist(record)

	shell := m.cfg.Shell
	if kind == KindAssistant && m.cfg.AssistantShell != "" {
		shell = m.cfg.AssistantShell
	}

	adapter, err := pty.Spawn(pty.Options{
		Shell:        shell,
		WorkingDir:   workingDir,
		Cols:         req.Cols,
		Rows:         req.Rows,
		SpawnTimeout: m.cfg.SpawnTimeout,
		Strategy:     m.cfg.Strategy,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, record.ID)
		m.mu.Unlock()
		if storeErr := m.store.Delete(record.ID); storeErr != nil {
			m.log.Warn("degraded: record delete failed",
				zap.String("session_id", record.ID), zap.Error(storeErr))
		}
		m.log.Error("session spawn failed",
			zap.String("session_id", record.ID),
			zap.String("project_id", req.ProjectID),
			zap.Error(err))
		return Record{}, err
	}

	ls.mu.Lock()
	ls.adapter = adapter
	ls.record.Status = StatusActive
	ls.record.UpdatedAt = time.Now()
	record = ls.record
	ls.mu.Unlock()

	m.persist(record)
	go m.pump(ls)

	m.log.Info("session created",
		zap.String("session_id", record.ID),
		zap.String("project_id", record.ProjectID),
		zap.String("kind", string(record.Kind)),
		zap.Int("pid", adapter.PID()),
		zap.String("strategy", adapter.Strategy()))

	return record, nil
}

// Attach binds a connection to a session and returns the record plus the
// buffered output tail for replay. A suspended session becomes active.
// Exactly one connection may be attached at a time.
func (m *Manager) Attach(sessionID string, connID id.ConnID, sink Sink) (Record, []byte, error) {
	ls := m.lookup(sessionID)
	if ls == nil {
		return Record{}, nil, ErrNotFound
	}

	ls.mu.Lock()
	if ls.destroyed {
		ls.mu.Unlock()
		return Record{}, nil, ErrNotFound
	}
	if ls.attached != "" {
		ls.mu.Unlock()
		return Record{}, nil, ErrAlreadyAttached
	}
	ls.attached = connID
	ls.sink = sink
	ls.record.Status = StatusActive
	ls.record.LastActivityAt = time.Now()
	ls.record.UpdatedAt = ls.record.LastActivityAt
	record := ls.record
	history := ls.ring.Snapshot()
	ls.mu.Unlock()

	m.persist(record)
	m.log.Info("session attached",
		zap.String("session_id", sessionID),
		zap.String("conn_id", connID.String()))

	return record, history, nil
}

// Detach unbinds a connection. DetachReconnectable suspends the session,
// keeping the process alive for the idle window; DetachTerminal destroys it.
// A detach from a connection that no longer owns the session is a no-op.
func (m *Manager) Detach(sessionID string, connID id.ConnID, reason DetachReason) {
	ls := m.lookup(sessionID)
	if ls == nil {
		return
	}

	ls.mu.Lock()
	if ls.attached != connID {
		ls.mu.Unlock()
		return
	}
	ls.attached = ""
	ls.sink = nil
	if reason == DetachTerminal {
		ls.mu.Unlock()
		m.Destroy(sessionID)
		return
	}
	ls.record.Status = StatusSuspended
	ls.record.UpdatedAt = time.Now()
	record := ls.record
	ls.mu.Unlock()

	m.persist(record)
	m.log.Info("session suspended",
		zap.String("session_id", sessionID),
		zap.String("conn_id", connID.String()))
}

// Destroy kills the process and deletes the record. It is idempotent.
func (m *Manager) Destroy(sessionID string) {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.finalize(ls, "destroyed")
}

// finalize kills the adapter and removes the stored record. The destroyed
// flag guards re-entry from the pump goroutine.
func (m *Manager) finalize(ls *liveSession, reason string) {
	ls.mu.Lock()
	if ls.destroyed {
		ls.mu.Unlock()
		return
	}
	ls.destroyed = true
	ls.sink = nil
	ls.attached = ""
	ls.record.Status = StatusClosed
	ls.record.UpdatedAt = time.Now()
	adapter := ls.adapter
	recordID := ls.record.ID
	ls.mu.Unlock()

	if adapter != nil {
		adapter.Kill(nil)
	}
	if err := m.store.Delete(recordID); err != nil {
		m.log.Warn("degraded: record delete failed",
			zap.String("session_id", recordID), zap.Error(err))
	}

	m.log.Info("session closed",
		zap.String("session_id", recordID),
		zap.String("reason", reason))
}

// Write sends input bytes to the session's process and refreshes activity.
func (m *Manager) Write(sessionID string, data []byte) error {
	ls := m.lookup(sessionID)
	if ls == nil {
		return ErrNotFound
	}

	ls.mu.Lock()
	if ls.destroyed || ls.adapter == nil {
		ls.mu.Unlock()
		return ErrNotFound
	}
	ls.record.LastActivityAt = time.Now()
	adapter := ls.adapter
	ls.mu.Unlock()

	return adapter.Write(data)
}

// Resize changes the session's terminal dimensions.
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	ls := m.lookup(sessionID)
	if ls == nil {
		return ErrNotFound
	}

	ls.mu.Lock()
	if ls.destroyed || ls.adapter == nil {
		ls.mu.Unlock()
		return ErrNotFound
	}
	ls.record.Cols = cols
	ls.record.Rows = rows
	adapter := ls.adapter
	ls.mu.Unlock()

	return adapter.Resize(cols, rows)
}

// Focus records the UI focus hint. It never affects process lifetime.
func (m *Manager) Focus(sessionID string, focused bool) error {
	ls := m.lookup(sessionID)
	if ls == nil {
		return ErrNotFound
	}

	ls.mu.Lock()
	ls.record.IsFocused = focused
	ls.record.UpdatedAt = time.Now()
	record := ls.record
	ls.mu.Unlock()

	m.persist(record)
	return nil
}

// Get returns the current record for a live session.
func (m *Manager) Get(sessionID string) (Record, bool) {
	ls := m.lookup(sessionID)
	if ls == nil {
		return Record{}, false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.destroyed {
		return Record{}, false
	}
	return ls.record, true
}

// PID returns the OS process id backing a session, 0 when unknown.
func (m *Manager) PID(sessionID string) int {
	ls := m.lookup(sessionID)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.adapter == nil {
		return 0
	}
	return ls.adapter.PID()
}

// List returns non-destroyed sessions for a project, oldest first. The
// record store is consulted first so the migration coordinator observes
// the operation; the in-memory map is the fallback when storage degrades.
func (m *Manager) List(projectID string) []Record {
	if records, err := m.store.List(projectID); err == nil {
		sortByCreation(records)
		return records
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []Record
	for _, ls := range m.sessions {
		ls.mu.Lock()
		if !ls.destroyed && ls.record.ProjectID == projectID {
			records = append(records, ls.record)
		}
		ls.mu.Unlock()
	}
	sortByCreation(records)
	return records
}

func sortByCreation(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

// Stats aggregates session counts and the tail buffer memory footprint.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	for _, ls := range m.sessions {
		ls.mu.Lock()
		if !ls.destroyed {
			stats.Total++
			switch ls.record.Status {
			case StatusActive, StatusInitializing:
				stats.Active++
			case StatusSuspended:
				stats.Suspended++
			}
			stats.MemoryBytes += int64(ls.ring.Len())
		}
		ls.mu.Unlock()
	}
	return stats
}

// Run drives the idle sweep until the context is cancelled. The sweep is
// the only component that destroys sessions without an explicit client
// request: suspended sessions whose last activity exceeds the idle timeout.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep destroys unattached sessions idle past the timeout.
func (m *Manager) sweep(now time.Time) {
	m.mu.RLock()
	var victims []string
	for sid, ls := range m.sessions {
		ls.mu.Lock()
		idle := ls.attached == "" && !ls.destroyed &&
			now.Sub(ls.record.LastActivityAt) > m.cfg.IdleTimeout
		ls.mu.Unlock()
		if idle {
			victims = append(victims, sid)
		}
	}
	m.mu.RUnlock()

	for _, sid := range victims {
		m.log.Info("idle sweep destroying session", zap.String("session_id", sid))
		m.Destroy(sid)
	}
}

// Close destroys every session. Used during graceful shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	remaining := make([]*liveSession, 0, len(m.sessions))
	for sid, ls := range m.sessions {
		remaining = append(remaining, ls)
		delete(m.sessions, sid)
	}
	m.mu.Unlock()

	for _, ls := range remaining {
		m.finalize(ls, "shutdown")
	}
}

// pump drains adapter output into the ring buffer and the attached sink,
// then handles process exit. One pump goroutine exists per live session.
func (m *Manager) pump(ls *liveSession) {
	adapter := ls.adapter

	for chunk := range adapter.Output() {
		// The ring write and the sink read share one critical section so
		// an attach snapshots the ring either before or after both: a
		// chunk is replayed from history or delivered live, never twice.
		ls.mu.Lock()
		ls.ring.Write(chunk)
		ls.record.LastActivityAt = time.Now()
		sink := ls.sink
		ls.mu.Unlock()

		if sink != nil {
			sink.Output(chunk)
		}
	}

	status, ok := <-adapter.Exited()

	ls.mu.Lock()
	sink := ls.sink
	destroyed := ls.destroyed
	sessionID := ls.record.ID
	ls.mu.Unlock()

	if ok && sink != nil {
		sink.Exit(status)
	}

	// Process death without an explicit destroy: no respawn, the session
	// is torn down and the record removed.
	if !destroyed {
		m.log.Info("session process exited",
			zap.String("session_id", sessionID),
			zap.Int("code", status.Code),
			zap.String("signal", status.Signal))
		m.Destroy(sessionID)
	}
}

func (m *Manager) lookup(sessionID string) *liveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// countLocked counts live sessions for a project and globally. Caller holds m.mu.
func (m *Manager) countLocked(projectID string) (project, global int) {
	for _, ls := range m.sessions {
		global++
		if ls.record.ProjectID == projectID {
			project++
		}
	}
	return project, global
}

// oldestIdleLocked returns the suspended session with the oldest activity,
// or nil when every session is attached. Caller holds m.mu.
func (m *Manager) oldestIdleLocked() *liveSession {
	var victim *liveSession
	var oldest time.Time
	for _, ls := range m.sessions {
		ls.mu.Lock()
		candidate := ls.attached == "" && !ls.destroyed && ls.record.Status == StatusSuspended
		activity := ls.record.LastActivityAt
		ls.mu.Unlock()
		if candidate && (victim == nil || activity.Before(oldest)) {
			victim = ls
			oldest = activity
		}
	}
	return victim
}

// persist shadow-writes the record, logging degraded mode instead of
// failing the session operation.
func (m *Manager) persist(record Record) {
	if err := m.store.Put(record); err != nil {
		m.log.Warn("degraded: record persist failed",
			zap.String("session_id", record.ID),
			zap.Error(err))
	}
}

// validateWorkingDir checks the requested directory exists, substituting
// the home directory (then /tmp) when it does not.
func validateWorkingDir(dir string) string {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return "/tmp"
}
