package store

import (
	"sync"

	"github.com/quantdash/termd/internal/session"
)

// Memory is the in-memory record store. It is the legacy backend and the
// primary half of Hybrid.
type Memory struct {
	mu      sync.RWMutex
	records map[string]session.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]session.Record)}
}

func (s *Memory) Put(record session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *Memory) Get(id string) (session.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	return record, ok, nil
}

func (s *Memory) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *Memory) List(projectID string) ([]session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []session.Record
	for _, record := range s.records {
		if record.ProjectID == projectID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *Memory) Close() error { return nil }

// Len returns the number of stored records.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
