package ws

// Client frame types.
const (
	FrameInput  = "input"
	FrameResize = "resize"
	FramePing   = "ping"
)

// Server frame types.
const (
	FrameConnected   = "connected"
	FrameReconnected = "reconnected"
	FrameOutput      = "output"
	FrameHistory     = "history"
	FrameExit        = "exit"
	FrameError       = "error"
	FramePong        = "pong"
)

// ClientFrame is a control envelope sent by the client.
type ClientFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// ServerFrame is a control envelope sent to the client.
type ServerFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Data      string `json:"data,omitempty"`
	Code      *int   `json:"code,omitempty"`
	Signal    string `json:"signal,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// RetryAfterMs advertises the breaker's backoff on CircuitOpen errors.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}
