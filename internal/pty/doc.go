// Package pty wraps a single pseudo-terminal-backed shell process.
//
// Each Adapter owns exactly one OS child process. It exposes the process as
// an ordered stream of output chunks plus a terminal exit event, and accepts
// input writes, resizes, and kill signals. An Adapter never respawns its
// process; what happens after exit is the session manager's decision.
//
// Spawning goes through a Strategy. The default is a real PTY via
// github.com/creack/pty; on hosts where no PTY device can be allocated a
// plain pipe strategy is used instead, selected once by Probe at startup.
package pty
