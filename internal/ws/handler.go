package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantdash/termd/internal/auth"
	"github.com/quantdash/termd/internal/logging"
	"github.com/quantdash/termd/internal/monitoring"
	"github.com/quantdash/termd/internal/pty"
	"github.com/quantdash/termd/internal/resilience"
	"github.com/quantdash/termd/internal/session"
	"github.com/quantdash/termd/internal/shared/id"
)

const (
	writeTimeout = 10 * time.Second
	maxFrameSize = 1 << 20

	defaultCols = 80
	defaultRows = 24
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Handler manages terminal WebSocket connections
type Handler struct {
	manager  *session.Manager
	breaker  *resilience.Breaker
	verifier auth.TokenVerifier
	metrics  *monitoring.Metrics
	log      *logging.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *session.Manager, breaker *resilience.Breaker, verifier auth.TokenVerifier, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{
		manager:  manager,
		breaker:  breaker,
		verifier: verifier,
		metrics:  metrics,
		log:      log.Named("ws"),
	}
}

// HandleConnection upgrades the request and runs the session's pumps until
// the connection ends.
func (h *Handler) HandleConnection(c *gin.Context) {
	sessionID := c.Query("session_id")
	projectID := c.Query("project_id")
	kind := session.Kind(c.Query("kind"))
	cwd := c.Query("cwd")

	ownerID, err := h.verifier.Verify(c.Request.Context(), c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  session.CodeUnauthorized,
			"error": "invalid token",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	connID := id.NewConnID()
	out := make(chan ServerFrame, 256)
	done := make(chan struct{})
	writerIdle := make(chan struct{})
	go h.writePump(conn, out, done, writerIdle)
	defer func() {
		close(done)
		<-writerIdle
	}()

	sink := &connSink{out: out, done: done, ready: make(chan struct{})}

	var record session.Record
	var history []byte
	reconnect := sessionID != ""

	if reconnect {
		record, history, err = h.manager.Attach(sessionID, connID, sink)
		if err != nil {
			h.enqueue(out, done, errorFrame(err))
			return
		}
		h.metrics.WSReconnects.Inc()
	} else {
		record, history, err = h.createAndAttach(session.CreateRequest{
			ProjectID:        projectID,
			OwnerID:          ownerID,
			WorkingDirectory: cwd,
			Kind:             kind,
			Cols:             queryInt(c, "cols", defaultCols),
			Rows:             queryInt(c, "rows", defaultRows),
		}, connID, sink)
		if err != nil {
			frame := errorFrame(err)
			if frame.ErrorCode == session.CodeCircuitOpen {
				frame.RetryAfterMs = h.breaker.RetryDelay().Milliseconds()
			}
			h.enqueue(out, done, frame)
			return
		}
	}

	greeting := FrameConnected
	if reconnect {
		greeting = FrameReconnected
	}
	h.enqueue(out, done, ServerFrame{Type: greeting, SessionID: record.ID})
	if len(history) > 0 {
		h.enqueue(out, done, ServerFrame{Type: FrameHistory, Data: string(history)})
	}
	close(sink.ready)

	h.log.Info("connection established",
		zap.String("session_id", record.ID),
		zap.String("conn_id", connID.String()),
		zap.Bool("reconnect", reconnect))

	h.readPump(conn, record.ID, connID, out, done)
}

// createAndAttach runs a breaker-guarded create followed by the attach that
// binds this connection.
func (h *Handler) createAndAttach(req session.CreateRequest, connID id.ConnID, sink session.Sink) (session.Record, []byte, error) {
	if err := h.breaker.Allow(); err != nil {
		h.metrics.BreakerRejected.Inc()
		return session.Record{}, nil, err
	}

	record, err := h.manager.Create(req)
	if err != nil {
		// Capacity rejections are policy, not spawn failures; they must
		// not trip the breaker.
		if session.ErrorCode(err) == session.CodeCapacityExceeded {
			h.breaker.RecordSuccess()
		} else {
			h.breaker.RecordFailure()
		}
		return session.Record{}, nil, err
	}
	h.breaker.RecordSuccess()
	h.metrics.SessionsCreated.Inc()

	return h.manager.Attach(record.ID, connID, sink)
}

// readPump applies client frames until the connection ends, then detaches
// per the close-code policy.
func (h *Handler) readPump(conn *websocket.Conn, sessionID string, connID id.ConnID, out chan ServerFrame, done chan struct{}) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			reason := session.DetachReconnectable
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				reason = session.DetachTerminal
			}
			h.manager.Detach(sessionID, connID, reason)
			h.log.Info("connection ended",
				zap.String("session_id", sessionID),
				zap.String("conn_id", connID.String()),
				zap.String("detach", string(reason)),
				zap.Error(err))
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			// Protocol errors end the connection but never the session.
			h.enqueue(out, done, ServerFrame{Type: FrameError, Message: "malformed frame"})
			h.manager.Detach(sessionID, connID, session.DetachReconnectable)
			return
		}
		h.metrics.RecordWSFrame("in", frame.Type)

		switch frame.Type {
		case FrameInput:
			if err := h.manager.Write(sessionID, []byte(frame.Data)); err != nil {
				h.enqueue(out, done, errorFrame(err))
			}
		case FrameResize:
			if err := h.manager.Resize(sessionID, frame.Cols, frame.Rows); err != nil {
				h.enqueue(out, done, errorFrame(err))
			}
		case FramePing:
			// Liveness only: pings must not reset the idle clock.
			h.enqueue(out, done, ServerFrame{Type: FramePong})
		default:
			h.enqueue(out, done, ServerFrame{Type: FrameError, Message: "unknown frame type"})
			h.manager.Detach(sessionID, connID, session.DetachReconnectable)
			return
		}
	}
}

// writePump owns all writes to the connection. After an exit frame it sends
// a normal closure so the client sees the frame before the connection drops.
func (h *Handler) writePump(conn *websocket.Conn, out chan ServerFrame, done chan struct{}, idle chan struct{}) {
	defer close(idle)

	for {
		select {
		case frame := <-out:
			if !h.writeFrame(conn, frame) {
				return
			}
			if frame.Type == FrameExit {
				deadline := time.Now().Add(writeTimeout)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "process exited"), deadline)
				return
			}
		case <-done:
			// Flush whatever is already queued before stopping.
			for {
				select {
				case frame := <-out:
					if !h.writeFrame(conn, frame) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame ServerFrame) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return false
	}
	h.metrics.RecordWSFrame("out", frame.Type)
	return true
}

func (h *Handler) enqueue(out chan<- ServerFrame, done <-chan struct{}, frame ServerFrame) {
	select {
	case out <- frame:
	case <-done:
	}
}

func errorFrame(err error) ServerFrame {
	return ServerFrame{
		Type:      FrameError,
		Message:   err.Error(),
		ErrorCode: session.ErrorCode(err),
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

// connSink forwards a session's live output into the connection's write
// pump. The ready gate holds live output back until the greeting and
// history frames are queued, so replayed bytes always precede live ones.
// A full queue stalls only this session's pump; the done channel unblocks
// it when the connection is gone.
type connSink struct {
	out   chan ServerFrame
	done  chan struct{}
	ready chan struct{}
}

func (s *connSink) Output(data []byte) {
	s.send(ServerFrame{Type: FrameOutput, Data: string(data)})
}

func (s *connSink) Exit(status pty.ExitStatus) {
	code := status.Code
	s.send(ServerFrame{Type: FrameExit, Code: &code, Signal: status.Signal})
}

func (s *connSink) send(frame ServerFrame) {
	select {
	case <-s.ready:
	case <-s.done:
		return
	}
	select {
	case s.out <- frame:
	case <-s.done:
	}
}
