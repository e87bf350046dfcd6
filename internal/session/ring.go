package session

import "sync"

// DefaultTailSize is the default tail buffer capacity.
const DefaultTailSize = 16 * 1024

// Ring is a thread-safe bounded buffer of the most recent output bytes.
// The oldest bytes are evicted first; capacity is fixed at construction,
// independent of session lifetime. Snapshot is non-destructive so the same
// tail can be replayed across multiple reconnects.
type Ring struct {
	mu     sync.RWMutex
	data   []byte
	start  int
	length int
	total  uint64
}

// NewRing creates a ring with the given byte capacity.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &Ring{data: make([]byte, size)}
}

// Write appends p, evicting the oldest bytes when full.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total += uint64(len(p))
	size := len(r.data)

	// Only the trailing window of oversized writes can survive.
	if len(p) >= size {
		copy(r.data, p[len(p)-size:])
		r.start = 0
		r.length = size
		return len(p), nil
	}

	writeAt := (r.start + r.length) % size
	n := copy(r.data[writeAt:], p)
	if n < len(p) {
		copy(r.data, p[n:])
	}

	r.length += len(p)
	if r.length > size {
		r.start = (r.start + r.length - size) % size
		r.length = size
	}
	return len(p), nil
}

// Snapshot returns a copy of the buffered tail in write order.
func (r *Ring) Snapshot() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]byte, r.length)
	n := copy(out, r.data[r.start:min(r.start+r.length, len(r.data))])
	if n < r.length {
		copy(out[n:], r.data)
	}
	return out
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.length
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.data)
}

// TotalWritten returns the count of all bytes ever written, including
// evicted ones.
func (r *Ring) TotalWritten() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
