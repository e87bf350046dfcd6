package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quantdash/termd/internal/auth"
	"github.com/quantdash/termd/internal/config"
	apihttp "github.com/quantdash/termd/internal/http"
	"github.com/quantdash/termd/internal/logging"
	"github.com/quantdash/termd/internal/migration"
	"github.com/quantdash/termd/internal/monitoring"
	"github.com/quantdash/termd/internal/resilience"
	"github.com/quantdash/termd/internal/session"
	"github.com/quantdash/termd/internal/store"
	"github.com/quantdash/termd/internal/tracing"
	"github.com/quantdash/termd/internal/ws"
)

// Server wraps the HTTP server and its dependencies
type Server struct {
	cfg         *config.Config
	log         *logging.Logger
	router      *gin.Engine
	manager     *session.Manager
	coordinator *migration.Coordinator
	metrics     *monitoring.Metrics
	breaker     *resilience.Breaker

	httpServer *http.Server
	stopSweep  context.CancelFunc
}

// New constructs the server. The token verifier is injected so deployments
// can plug their identity provider; nil means the permissive dev verifier.
func New(cfg *config.Config, verifier auth.TokenVerifier, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if verifier == nil {
		verifier = auth.Permissive{}
	}

	modern, err := buildStore(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}

	coordinator := migration.NewCoordinator(migration.Flags{
		ModernCreate: cfg.Migration.ModernCreate,
		ModernLookup: cfg.Migration.ModernLookup,
		ModernDelete: cfg.Migration.ModernDelete,
		ModernList:   cfg.Migration.ModernList,
	}, store.NewMemory(), modern)

	manager := session.NewManager(session.Config{
		MaxSessions:           cfg.Sessions.MaxSessions,
		MaxSessionsPerProject: cfg.Sessions.MaxSessionsPerProject,
		IdleTimeout:           cfg.Sessions.IdleTimeout,
		SweepInterval:         cfg.Sessions.SweepInterval,
		TailBufferSize:        cfg.Sessions.TailBufferSize,
		SpawnTimeout:          cfg.Sessions.SpawnTimeout,
		Shell:                 cfg.Sessions.Shell,
		AssistantShell:        cfg.Sessions.AssistantShell,
	}, coordinator, log)

	metrics := monitoring.NewMetrics()

	breaker := resilience.New("session-spawn", resilience.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		MinInterval:      cfg.Breaker.MinInterval,
		InitialDelay:     cfg.Breaker.InitialDelay,
		BackoffFactor:    cfg.Breaker.BackoffFactor,
		MaxDelay:         cfg.Breaker.MaxDelay,
		OnStateChange: func(name string, from, to resilience.State) {
			metrics.SetBreakerState(float64(to))
			if to == resilience.StateOpen {
				metrics.BreakerTrips.Inc()
			}
			log.Warn("breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	handlers := apihttp.NewHandlers(manager, coordinator, breaker, metrics, cfg.Health)
	wsHandler := ws.NewHandler(manager, breaker, verifier, metrics, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.Middleware(tracing.New("termd", log)))
	router.Use(monitoring.Middleware(metrics))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Session management
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.DELETE("/sessions/:id", handlers.DestroySession)
	router.POST("/sessions/:id/focus", handlers.FocusSession)

	// Migration rollout + metrics
	router.GET("/status/migration", handlers.MigrationStatus)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Terminal stream
	router.GET("/ws/terminal", wsHandler.HandleConnection)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go manager.Run(sweepCtx)

	return &Server{
		cfg:         cfg,
		log:         log.Named("server"),
		router:      router,
		manager:     manager,
		coordinator: coordinator,
		metrics:     metrics,
		breaker:     breaker,
		stopSweep:   stopSweep,
	}, nil
}

// buildStore selects the record store backend.
func buildStore(cfg config.StorageConfig, log *logging.Logger) (session.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "database":
		return store.OpenDatabase(cfg.DatabasePath)
	default:
		db, err := store.OpenDatabase(cfg.DatabasePath)
		if err != nil {
			// Hybrid tolerates an unreachable database by starting degraded.
			log.Warn("database unavailable, hybrid store starts memory-only", zap.Error(err))
			return store.NewHybrid(nil, log), nil
		}
		return store.NewHybrid(db, log), nil
	}
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.log.Info("listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener, the idle sweep and every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.stopSweep()
	s.manager.Close()
	if closeErr := s.coordinator.Close(); err == nil {
		err = closeErr
	}
	return err
}
