package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdash/termd/internal/config"
	"github.com/quantdash/termd/internal/logging"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = "hybrid"
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "sessions.db")
	cfg.Sessions.Shell = "/bin/sh"
	cfg.Breaker.MinInterval = 0
	return cfg
}

func TestServerRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv, err := New(newTestConfig(t), nil, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	for _, path := range []string{"/", "/health", "/status/migration", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestServerMemoryBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := newTestConfig(t)
	cfg.Storage.Backend = "memory"
	srv, err := New(cfg, nil, logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
