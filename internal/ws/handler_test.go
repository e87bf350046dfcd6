package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdash/termd/internal/auth"
	"github.com/quantdash/termd/internal/logging"
	"github.com/quantdash/termd/internal/monitoring"
	"github.com/quantdash/termd/internal/resilience"
	"github.com/quantdash/termd/internal/session"
	"github.com/quantdash/termd/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := session.NewManager(session.Config{
		MaxSessions:           50,
		MaxSessionsPerProject: 5,
		IdleTimeout:           time.Minute,
		SweepInterval:         time.Minute,
		SpawnTimeout:          5 * time.Second,
		Shell:                 "/bin/sh",
	}, store.NewMemory(), logging.NewNop())
	t.Cleanup(manager.Close)

	breaker := resilience.New("spawn", resilience.Settings{MinInterval: 0})
	handler := NewHandler(manager, breaker, auth.Permissive{}, monitoring.NewMetrics(), logging.NewNop())

	router := gin.New()
	router.GET("/ws/terminal", handler.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, manager
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/terminal?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// awaitOutput reads frames until the accumulated output contains want.
func awaitOutput(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	var collected strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var frame ServerFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == FrameOutput || frame.Type == FrameHistory {
			collected.WriteString(frame.Data)
		}
		if strings.Contains(collected.String(), want) {
			return
		}
	}
	t.Fatalf("output %q never arrived, got %q", want, collected.String())
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame ClientFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func closeWithCode(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), deadline))
	conn.Close()
}

func waitForStatus(t *testing.T, manager *session.Manager, sessionID string, want session.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		record, ok := manager.Get(sessionID)
		return ok && record.Status == want
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCreateEchoOutput(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "project_id=proj&cwd=/tmp")

	greeting := readFrame(t, conn)
	require.Equal(t, FrameConnected, greeting.Type)
	require.NotEmpty(t, greeting.SessionID)

	sendFrame(t, conn, ClientFrame{Type: FrameInput, Data: "echo hi\n"})
	awaitOutput(t, conn, "hi")
}

func TestAbnormalCloseSuspendsAndReconnects(t *testing.T) {
	srv, manager := newTestServer(t)
	conn := dial(t, srv, "project_id=proj&cwd=/tmp")

	greeting := readFrame(t, conn)
	require.Equal(t, FrameConnected, greeting.Type)
	sid := greeting.SessionID

	sendFrame(t, conn, ClientFrame{Type: FrameInput, Data: "echo before-drop\n"})
	awaitOutput(t, conn, "before-drop")
	pidBefore := manager.PID(sid)
	require.NotZero(t, pidBefore)

	closeWithCode(t, conn, websocket.CloseGoingAway)
	waitForStatus(t, manager, sid, session.StatusSuspended)

	reconn := dial(t, srv, "session_id="+sid)
	greeting = readFrame(t, reconn)
	require.Equal(t, FrameReconnected, greeting.Type)
	assert.Equal(t, sid, greeting.SessionID)

	history := readFrame(t, reconn)
	require.Equal(t, FrameHistory, history.Type)
	assert.Contains(t, history.Data, "before-drop")

	assert.Equal(t, pidBefore, manager.PID(sid))
}

func TestNormalCloseDestroysSession(t *testing.T) {
	srv, manager := newTestServer(t)
	conn := dial(t, srv, "project_id=proj&cwd=/tmp")

	greeting := readFrame(t, conn)
	sid := greeting.SessionID

	closeWithCode(t, conn, websocket.CloseNormalClosure)
	require.Eventually(t, func() bool {
		_, ok := manager.Get(sid)
		return !ok
	}, 3*time.Second, 10*time.Millisecond)

	reconn := dial(t, srv, "session_id="+sid)
	frame := readFrame(t, reconn)
	require.Equal(t, FrameError, frame.Type)
	assert.Equal(t, session.CodeNotFound, frame.ErrorCode)
}

func TestPerProjectCapacity(t *testing.T) {
	srv, manager := newTestServer(t)

	for i := 0; i < 5; i++ {
		conn := dial(t, srv, "project_id=capped&cwd=/tmp")
		frame := readFrame(t, conn)
		require.Equal(t, FrameConnected, frame.Type, "create %d", i+1)
	}

	conn := dial(t, srv, "project_id=capped&cwd=/tmp")
	frame := readFrame(t, conn)
	require.Equal(t, FrameError, frame.Type)
	assert.Equal(t, session.CodeCapacityExceeded, frame.ErrorCode)
	assert.Equal(t, 5, manager.Stats().Total)
}

func TestMalformedFrameClosesConnectionNotSession(t *testing.T) {
	srv, manager := newTestServer(t)
	conn := dial(t, srv, "project_id=proj&cwd=/tmp")

	greeting := readFrame(t, conn)
	sid := greeting.SessionID

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// Shell prompt output may interleave before the error frame.
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no error frame before deadline")
		conn.SetReadDeadline(deadline)
		var frame ServerFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == FrameError {
			assert.Equal(t, "malformed frame", frame.Message)
			break
		}
	}

	waitForStatus(t, manager, sid, session.StatusSuspended)
}

func TestPingPongSkipsActivity(t *testing.T) {
	srv, manager := newTestServer(t)
	conn := dial(t, srv, "project_id=proj&cwd=/tmp")

	greeting := readFrame(t, conn)
	sid := greeting.SessionID

	// Let the shell prompt output settle before sampling activity.
	time.Sleep(500 * time.Millisecond)
	before, ok := manager.Get(sid)
	require.True(t, ok)

	sendFrame(t, conn, ClientFrame{Type: FramePing})
	frame := readFrame(t, conn)
	require.Equal(t, FramePong, frame.Type)

	after, ok := manager.Get(sid)
	require.True(t, ok)
	assert.Equal(t, before.LastActivityAt, after.LastActivityAt)
}

func TestResizePropagates(t *testing.T) {
	srv, manager := newTestServer(t)
	conn := dial(t, srv, "project_id=proj&cwd=/tmp&cols=80&rows=24")

	greeting := readFrame(t, conn)
	sid := greeting.SessionID

	sendFrame(t, conn, ClientFrame{Type: FrameResize, Cols: 132, Rows: 43})
	require.Eventually(t, func() bool {
		record, ok := manager.Get(sid)
		return ok && record.Cols == 132 && record.Rows == 43
	}, 3*time.Second, 10*time.Millisecond)
}

func TestExitFrameOnProcessDeath(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "project_id=proj&cwd=/tmp")

	greeting := readFrame(t, conn)
	require.Equal(t, FrameConnected, greeting.Type)

	sendFrame(t, conn, ClientFrame{Type: FrameInput, Data: "exit 3\n"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no exit frame before deadline")
		conn.SetReadDeadline(deadline)
		var frame ServerFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == FrameExit {
			require.NotNil(t, frame.Code)
			assert.Equal(t, 3, *frame.Code)
			return
		}
	}
}

func TestUnauthorizedToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	manager := session.NewManager(session.Config{Shell: "/bin/sh"}, store.NewMemory(), logging.NewNop())
	t.Cleanup(manager.Close)

	handler := NewHandler(manager,
		resilience.New("spawn", resilience.Settings{MinInterval: 0}),
		denyAll{}, monitoring.NewMetrics(), logging.NewNop())

	router := gin.New()
	router.GET("/ws/terminal", handler.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/terminal?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, session.CodeUnauthorized, body.Code)
}

type denyAll struct{}

func (denyAll) Verify(context.Context, string) (string, error) {
	return "", errors.New("invalid token")
}
