// Package migration provides the strangler facade routing session record
// operations between the legacy in-memory backend and the modern
// storage-backed one during the phased rollout.
//
// The coordinator performs no business logic of its own. Both paths are
// side-effect equivalent from the caller's view; the only observable
// difference is which backend persisted the record, which the status
// snapshot reports. Once the rollout completes the facade can be deleted
// and call sites handed the modern store directly.
package migration

import (
	"sync/atomic"

	"github.com/quantdash/termd/internal/session"
)

// Flags selects the backend per operation.
type Flags struct {
	ModernCreate bool
	ModernLookup bool
	ModernDelete bool
	ModernList   bool
}

// Mode summarizes the flag set.
func (f Flags) Mode() string {
	switch {
	case f.ModernCreate && f.ModernLookup && f.ModernDelete && f.ModernList:
		return "modern"
	case !f.ModernCreate && !f.ModernLookup && !f.ModernDelete && !f.ModernList:
		return "legacy"
	default:
		return "mixed"
	}
}

// Status is the coordinator's observability snapshot.
type Status struct {
	Mode            string   `json:"mode"`
	LegacyServed    uint64   `json:"legacy_served"`
	ModernServed    uint64   `json:"modern_served"`
	Errors          uint64   `json:"errors"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Coordinator is a session.Store that routes each operation to the legacy
// or modern backend per its flags, counting which path served it.
type Coordinator struct {
	flags  Flags
	legacy session.Store
	modern session.Store

	legacyServed atomic.Uint64
	modernServed atomic.Uint64
	errorCount   atomic.Uint64
}

// NewCoordinator builds the facade over the two backends.
func NewCoordinator(flags Flags, legacy, modern session.Store) *Coordinator {
	return &Coordinator{
		flags:  flags,
		legacy: legacy,
		modern: modern,
	}
}

func (c *Coordinator) Put(record session.Record) error {
	return c.track(c.route(c.flags.ModernCreate)).Put(record)
}

func (c *Coordinator) Get(id string) (session.Record, bool, error) {
	primary := c.route(c.flags.ModernLookup)
	record, ok, err := c.track(primary).Get(id)
	if err != nil || ok {
		return record, ok, err
	}

	// Mixed flag sets can write to one backend and look up in the other;
	// falling through keeps the paths observably equivalent.
	return c.track(c.other(primary)).Get(id)
}

func (c *Coordinator) Delete(id string) error {
	// Deletes go to both backends: a record created on the legacy path
	// must not outlive its session because a flag flipped mid-rollout.
	primary := c.route(c.flags.ModernDelete)
	err := c.track(primary).Delete(id)
	if otherErr := c.other(primary).Delete(id); err == nil {
		err = otherErr
	}
	return err
}

func (c *Coordinator) List(projectID string) ([]session.Record, error) {
	return c.track(c.route(c.flags.ModernList)).List(projectID)
}

func (c *Coordinator) Close() error {
	legacyErr := c.legacy.Close()
	modernErr := c.modern.Close()
	if legacyErr != nil {
		return legacyErr
	}
	return modernErr
}

// Flags returns the active flag set.
func (c *Coordinator) Flags() Flags {
	return c.flags
}

// Status reports which paths served operations and derives rollout
// recommendations from simple thresholds.
func (c *Coordinator) Status() Status {
	legacy := c.legacyServed.Load()
	modern := c.modernServed.Load()
	errs := c.errorCount.Load()

	status := Status{
		Mode:         c.flags.Mode(),
		LegacyServed: legacy,
		ModernServed: modern,
		Errors:       errs,
	}

	total := legacy + modern
	if total > 0 && errs*10 > total {
		status.Recommendations = append(status.Recommendations,
			"error rate above 10%: investigate before widening rollout")
	}
	if status.Mode == "mixed" && total >= 20 {
		if legacy*10 < total {
			status.Recommendations = append(status.Recommendations,
				"legacy path nearly drained: consider completing the migration")
		} else if modern*10 < total {
			status.Recommendations = append(status.Recommendations,
				"modern path barely exercised: widen flags to gain confidence")
		}
	}
	return status
}

func (c *Coordinator) route(modern bool) session.Store {
	if modern {
		return c.modern
	}
	return c.legacy
}

func (c *Coordinator) other(s session.Store) session.Store {
	if s == c.modern {
		return c.legacy
	}
	return c.modern
}

// track wraps a backend so every call increments the served/error counters.
func (c *Coordinator) track(backend session.Store) session.Store {
	return &counted{Store: backend, c: c, modern: backend == c.modern}
}

type counted struct {
	session.Store
	c      *Coordinator
	modern bool
}

func (w *counted) Put(record session.Record) error {
	return w.done(w.Store.Put(record))
}

func (w *counted) Get(id string) (session.Record, bool, error) {
	record, ok, err := w.Store.Get(id)
	return record, ok, w.done(err)
}

func (w *counted) Delete(id string) error {
	return w.done(w.Store.Delete(id))
}

func (w *counted) List(projectID string) ([]session.Record, error) {
	records, err := w.Store.List(projectID)
	return records, w.done(err)
}

func (w *counted) done(err error) error {
	if w.modern {
		w.c.modernServed.Add(1)
	} else {
		w.c.legacyServed.Add(1)
	}
	if err != nil {
		w.c.errorCount.Add(1)
	}
	return err
}
