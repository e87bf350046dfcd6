package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsSuspended prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSFrames      *prometheus.CounterVec
	WSReconnects  prometheus.Counter

	// Circuit breaker metrics
	BreakerState    prometheus.Gauge
	BreakerTrips    prometheus.Counter
	BreakerRejected prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry *prometheus.Registry

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON status API
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
	ActiveSessions    int64   `json:"active_sessions"`
	SuspendedSessions int64   `json:"suspended_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`

	totalDuration float64
	requestCount  int64
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termd_sessions_active",
				Help: "Number of sessions with an attached client",
			},
		),
		SessionsSuspended: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termd_sessions_suspended",
				Help: "Number of sessions awaiting reconnect",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termd_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsDestroyed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termd_sessions_destroyed_total",
				Help: "Total number of sessions destroyed",
			},
		),
		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termd_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termd_ws_frames_total",
				Help: "Total number of WebSocket frames",
			},
			[]string{"direction", "type"},
		),
		WSReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termd_ws_reconnects_total",
				Help: "Total number of reconnects to a suspended session",
			},
		),

		// Circuit breaker metrics
		BreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termd_breaker_state",
				Help: "Spawn circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		BreakerTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termd_breaker_trips_total",
				Help: "Total number of circuit breaker trips",
			},
		),
		BreakerRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termd_breaker_rejected_total",
				Help: "Total number of attempts rejected by the breaker",
			},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termd_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	return m
}

// Handler exposes this collector's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	m.snapshot.requestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordWSFrame records a WebSocket frame
func (m *Metrics) RecordWSFrame(direction, frameType string) {
	m.WSFrames.WithLabelValues(direction, frameType).Inc()
}

// SetSessionCounts sets the active and suspended session gauges
func (m *Metrics) SetSessionCounts(active, suspended int) {
	m.SessionsActive.Set(float64(active))
	m.SessionsSuspended.Set(float64(suspended))

	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(active)
	m.snapshot.SuspendedSessions = int64(suspended)
	m.mu.Unlock()
}

// SetBreakerState sets the breaker state gauge
func (m *Metrics) SetBreakerState(state float64) {
	m.BreakerState.Set(state)
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()

	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()

	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// GetSnapshot returns the current metric values for the JSON status API.
func (m *Metrics) GetSnapshot() Snapshot {
	uptime := time.Since(m.startTime).Seconds()
	m.Uptime.Set(uptime)

	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	snap.UptimeSeconds = uptime
	if snap.requestCount > 0 {
		snap.AvgDurationMs = snap.totalDuration / float64(snap.requestCount) * 1000
	}
	return snap
}
