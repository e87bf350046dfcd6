// Package ws is the streaming transport for terminal sessions.
//
// A connection either attaches to an existing session (session_id query
// parameter) or creates one on connect. Each connection runs two pumps: the
// read pump turns client frames into process input and control operations,
// and the write pump serializes server frames, fed by the session's output
// sink.
//
// The close code decides the session's fate. A normal closure (1000) is a
// deliberate kill and destroys the session. Every other termination,
// including going-away, abnormal closure and protocol errors, suspends the
// session so the client can reconnect and replay the output tail.
package ws
