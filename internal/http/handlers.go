package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantdash/termd/internal/config"
	"github.com/quantdash/termd/internal/migration"
	"github.com/quantdash/termd/internal/monitoring"
	"github.com/quantdash/termd/internal/resilience"
	"github.com/quantdash/termd/internal/session"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	manager     *session.Manager
	coordinator *migration.Coordinator
	breaker     *resilience.Breaker
	metrics     *monitoring.Metrics
	health      config.HealthConfig
}

// NewHandlers creates a new handler set
func NewHandlers(
	manager *session.Manager,
	coordinator *migration.Coordinator,
	breaker *resilience.Breaker,
	metrics *monitoring.Metrics,
	health config.HealthConfig,
) *Handlers {
	return &Handlers{
		manager:     manager,
		coordinator: coordinator,
		breaker:     breaker,
		metrics:     metrics,
		health:      health,
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termd",
	})
}

// Health reports aggregate session counts plus warnings over the configured
// thresholds.
func (h *Handlers) Health(c *gin.Context) {
	stats := h.manager.Stats()
	h.metrics.SetSessionCounts(stats.Active, stats.Suspended)

	var warnings []string
	if stats.Total >= h.health.SessionWarnCount {
		warnings = append(warnings, "session count near capacity")
	}
	if stats.Suspended >= h.health.SuspendedWarnCount {
		warnings = append(warnings, "many suspended sessions awaiting reconnect")
	}
	if stats.MemoryBytes >= int64(h.health.MemoryWarnBytes) {
		warnings = append(warnings, "tail buffer memory above threshold")
	}

	status := "healthy"
	if len(warnings) > 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"sessions": stats,
		"warnings": warnings,
		"breaker":  h.breaker.Snapshot(),
		"metrics":  h.metrics.GetSnapshot(),
	})
}

type createSessionRequest struct {
	ProjectID        string `json:"project_id" binding:"required"`
	WorkingDirectory string `json:"working_directory"`
	Kind             string `json:"kind"`
	Cols             int    `json:"cols"`
	Rows             int    `json:"rows"`
}

// CreateSession spawns a new shell session without attaching a stream.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": session.CodeInternal, "error": err.Error()})
		return
	}

	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	if err := h.breaker.Allow(); err != nil {
		h.metrics.BreakerRejected.Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":           session.ErrorCode(err),
			"error":          err.Error(),
			"retry_after_ms": h.breaker.RetryDelay().Milliseconds(),
		})
		return
	}

	record, err := h.manager.Create(session.CreateRequest{
		ProjectID:        req.ProjectID,
		WorkingDirectory: req.WorkingDirectory,
		Kind:             session.Kind(req.Kind),
		Cols:             cols,
		Rows:             rows,
	})
	if err != nil {
		code := session.ErrorCode(err)
		if code == session.CodeCapacityExceeded {
			h.breaker.RecordSuccess()
		} else {
			h.breaker.RecordFailure()
		}
		c.JSON(statusFor(code), gin.H{"code": code, "error": err.Error()})
		return
	}
	h.breaker.RecordSuccess()
	h.metrics.SessionsCreated.Inc()

	c.JSON(http.StatusCreated, gin.H{
		"session_id": record.ID,
		"status":     record.Status,
		"created_at": record.CreatedAt,
	})
}

// ListSessions lists non-destroyed sessions for a project
func (h *Handlers) ListSessions(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": session.CodeInternal, "error": "project_id is required"})
		return
	}

	records := h.manager.List(projectID)
	projections := make([]gin.H, 0, len(records))
	for _, r := range records {
		projections = append(projections, gin.H{
			"id":         r.ID,
			"kind":       r.Kind,
			"status":     r.Status,
			"is_focused": r.IsFocused,
			"created_at": r.CreatedAt,
			"updated_at": r.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": projections,
		"stats":    h.manager.Stats(),
	})
}

// DestroySession kills a session's process and removes its record. This is
// the same path a deliberate stream close takes.
func (h *Handlers) DestroySession(c *gin.Context) {
	sessionID := c.Param("id")

	_, existed := h.manager.Get(sessionID)
	h.manager.Destroy(sessionID)
	if existed {
		h.metrics.SessionsDestroyed.Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    existed,
		"session_id": sessionID,
	})
}

type focusRequest struct {
	Focused *bool `json:"focused"`
}

// FocusSession records the UI focus hint for a session
func (h *Handlers) FocusSession(c *gin.Context) {
	sessionID := c.Param("id")

	req := focusRequest{}
	// Body is optional; an empty body means focus.
	_ = c.ShouldBindJSON(&req)
	focused := true
	if req.Focused != nil {
		focused = *req.Focused
	}

	if err := h.manager.Focus(sessionID, focused); err != nil {
		code := session.ErrorCode(err)
		c.JSON(statusFor(code), gin.H{"code": code, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
		"is_focused": focused,
	})
}

// MigrationStatus reports the storage rollout's routing counters
func (h *Handlers) MigrationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Status())
}
