package store

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quantdash/termd/internal/logging"
	"github.com/quantdash/termd/internal/session"
)

// Hybrid keeps memory as the primary store and shadow-writes every change
// to the database. Reads are served from memory; database failures flip
// the degraded flag and log a warning, but never fail the operation.
type Hybrid struct {
	memory   *Memory
	database session.Store
	log      *logging.Logger
	degraded atomic.Bool
}

// NewHybrid wraps the given database store with a memory primary. A nil
// database starts the store degraded, serving memory only.
func NewHybrid(database session.Store, log *logging.Logger) *Hybrid {
	if log == nil {
		log = logging.NewNop()
	}
	h := &Hybrid{
		memory:   NewMemory(),
		database: database,
		log:      log.Named("store"),
	}
	if database == nil {
		h.degraded.Store(true)
	}
	return h
}

func (s *Hybrid) Put(record session.Record) error {
	s.memory.Put(record)

	if s.database == nil {
		return nil
	}
	if err := s.database.Put(record); err != nil {
		s.markDegraded("put", record.ID, err)
		return nil
	}
	s.markHealthy()
	return nil
}

func (s *Hybrid) Get(id string) (session.Record, bool, error) {
	if record, ok, _ := s.memory.Get(id); ok {
		return record, true, nil
	}

	if s.database == nil {
		return session.Record{}, false, nil
	}

	// Memory miss: a restart may have wiped the primary while the
	// database still holds the record.
	record, ok, err := s.database.Get(id)
	if err != nil {
		s.markDegraded("get", id, err)
		return session.Record{}, false, nil
	}
	s.markHealthy()
	if ok {
		s.memory.Put(record)
	}
	return record, ok, nil
}

func (s *Hybrid) Delete(id string) error {
	s.memory.Delete(id)

	if s.database == nil {
		return nil
	}
	if err := s.database.Delete(id); err != nil {
		s.markDegraded("delete", id, err)
		return nil
	}
	s.markHealthy()
	return nil
}

func (s *Hybrid) List(projectID string) ([]session.Record, error) {
	records, _ := s.memory.List(projectID)
	if len(records) > 0 || s.database == nil {
		return records, nil
	}

	// Empty memory result: mirror the Get miss path so records that
	// survived a restart in the database stay listable.
	records, err := s.database.List(projectID)
	if err != nil {
		s.markDegraded("list", projectID, err)
		return nil, nil
	}
	s.markHealthy()
	for _, record := range records {
		s.memory.Put(record)
	}
	return records, nil
}

func (s *Hybrid) Close() error {
	if s.database == nil {
		return nil
	}
	return s.database.Close()
}

// Degraded reports whether the last database operation failed.
func (s *Hybrid) Degraded() bool {
	return s.degraded.Load()
}

func (s *Hybrid) markDegraded(op, key string, err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.log.Warn("database unreachable, continuing memory-only",
			zap.String("op", op),
			zap.String("key", key),
			zap.Error(err))
	}
}

func (s *Hybrid) markHealthy() {
	if s.degraded.CompareAndSwap(true, false) {
		s.log.Info("database connection recovered")
	}
}
