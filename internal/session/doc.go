// Package session implements the terminal session lifecycle.
//
// A session pairs a client identity with one shell process. The Manager is
// the single owner of the session map: it creates, attaches, detaches and
// destroys sessions, enforces per-project and global caps, and runs the
// idle sweep that reclaims suspended sessions nobody came back for.
//
// State machine per session:
//
//	initializing → active ⇄ suspended → closed
//	initializing|active → errored → closed (unrecoverable adapter failure)
//
// A session keeps exactly one live process adapter while its status is
// initializing, active or suspended. The session id never changes across
// suspend/resume; reconnection is keyed by id, not by connection identity.
// Recent output is retained in a bounded Ring and replayed verbatim on
// reattach before live streaming resumes.
package session
