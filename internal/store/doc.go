// Package store provides the session record store backends.
//
// Three interchangeable implementations of session.Store exist:
//
//   - Memory: map-backed, lost on restart. The legacy backend.
//   - Database: sqlite via gorm, durable across restarts.
//   - Hybrid: memory primary with database shadow-writes. Database
//     failures are absorbed and logged as degraded mode; a session
//     operation never fails because storage is unreachable.
//
// Records are projections only: process handles and tail buffers never
// cross the storage boundary.
package store
