// Package server wires the session manager, record stores, breaker and
// transport handlers into one HTTP server with a graceful shutdown path.
package server
