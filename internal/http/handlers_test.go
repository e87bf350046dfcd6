package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdash/termd/internal/config"
	"github.com/quantdash/termd/internal/logging"
	"github.com/quantdash/termd/internal/migration"
	"github.com/quantdash/termd/internal/monitoring"
	"github.com/quantdash/termd/internal/resilience"
	"github.com/quantdash/termd/internal/session"
	"github.com/quantdash/termd/internal/store"
)

func newTestRouter(t *testing.T, health config.HealthConfig) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	coordinator := migration.NewCoordinator(migration.Flags{
		ModernCreate: true, ModernLookup: true, ModernDelete: true, ModernList: true,
	}, store.NewMemory(), store.NewMemory())

	manager := session.NewManager(session.Config{
		MaxSessions:           50,
		MaxSessionsPerProject: 5,
		SpawnTimeout:          5 * time.Second,
		Shell:                 "/bin/sh",
	}, coordinator, logging.NewNop())
	t.Cleanup(manager.Close)

	if health.SessionWarnCount == 0 {
		health = config.Default().Health
	}

	handlers := NewHandlers(manager, coordinator,
		resilience.New("spawn", resilience.Settings{MinInterval: 0}),
		monitoring.NewMetrics(), health)

	router := gin.New()
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.DELETE("/sessions/:id", handlers.DestroySession)
	router.POST("/sessions/:id/focus", handlers.FocusSession)
	router.GET("/status/migration", handlers.MigrationStatus)
	return router, manager
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	parsed := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func createSession(t *testing.T, router *gin.Engine, projectID string) string {
	t.Helper()
	w, body := doJSON(t, router, http.MethodPost, "/sessions", gin.H{
		"project_id":        projectID,
		"working_directory": "/tmp",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sid, _ := body["session_id"].(string)
	require.True(t, strings.HasPrefix(sid, "sess_"), sid)
	return sid
}

func TestCreateSession(t *testing.T) {
	router, _ := newTestRouter(t, config.HealthConfig{})

	w, body := doJSON(t, router, http.MethodPost, "/sessions", gin.H{
		"project_id":        "proj",
		"working_directory": "/tmp",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, string(session.StatusActive), body["status"])
	assert.NotEmpty(t, body["created_at"])
}

func TestCreateSessionRequiresProject(t *testing.T) {
	router, _ := newTestRouter(t, config.HealthConfig{})

	w, _ := doJSON(t, router, http.MethodPost, "/sessions", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSessionCapacity(t *testing.T) {
	router, manager := newTestRouter(t, config.HealthConfig{})

	for i := 0; i < 5; i++ {
		createSession(t, router, "capped")
	}

	w, body := doJSON(t, router, http.MethodPost, "/sessions", gin.H{
		"project_id":        "capped",
		"working_directory": "/tmp",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, session.CodeCapacityExceeded, body["code"])
	assert.Equal(t, 5, manager.Stats().Total)
}

func TestListSessions(t *testing.T) {
	router, _ := newTestRouter(t, config.HealthConfig{})
	sid := createSession(t, router, "proj")

	w, body := doJSON(t, router, http.MethodGet, "/sessions?project_id=proj", nil)
	require.Equal(t, http.StatusOK, w.Code)

	sessions, ok := body["sessions"].([]interface{})
	require.True(t, ok)
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]interface{})
	assert.Equal(t, sid, first["id"])
	assert.Equal(t, string(session.StatusActive), first["status"])

	w, _ = doJSON(t, router, http.MethodGet, "/sessions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDestroySession(t *testing.T) {
	router, manager := newTestRouter(t, config.HealthConfig{})
	sid := createSession(t, router, "proj")

	w, body := doJSON(t, router, http.MethodDelete, "/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 0, manager.Stats().Total)

	// Destroy is idempotent.
	w, body = doJSON(t, router, http.MethodDelete, "/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestFocusSession(t *testing.T) {
	router, manager := newTestRouter(t, config.HealthConfig{})
	sid := createSession(t, router, "proj")

	w, body := doJSON(t, router, http.MethodPost, "/sessions/"+sid+"/focus", gin.H{"focused": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["is_focused"])

	record, ok := manager.Get(sid)
	require.True(t, ok)
	assert.True(t, record.IsFocused)

	w, resp := doJSON(t, router, http.MethodPost, "/sessions/sess_unknown/focus", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, session.CodeNotFound, resp["code"])
}

func TestHealthWarnings(t *testing.T) {
	router, _ := newTestRouter(t, config.HealthConfig{
		SessionWarnCount:   1,
		SuspendedWarnCount: 100,
		MemoryWarnBytes:    1 << 30,
	})
	createSession(t, router, "proj")

	w, body := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", body["status"])
	warnings, ok := body["warnings"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, warnings)
}

func TestHealthHealthy(t *testing.T) {
	router, _ := newTestRouter(t, config.HealthConfig{})

	w, body := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestMigrationStatus(t *testing.T) {
	router, _ := newTestRouter(t, config.HealthConfig{})
	createSession(t, router, "proj")

	w, body := doJSON(t, router, http.MethodGet, "/status/migration", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "modern", body["mode"])
	assert.NotZero(t, body["modern_served"])
}
