// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/guardian/internal/admin"
	"github.com/mbd888/guardian/internal/analyzer"
	"github.com/mbd888/guardian/internal/auth"
	"github.com/mbd888/guardian/internal/circuitbreaker"
	"github.com/mbd888/guardian/internal/config"
	"github.com/mbd888/guardian/internal/guardian"
	"github.com/mbd888/guardian/internal/health"
	"github.com/mbd888/guardian/internal/logging"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/notify"
	"github.com/mbd888/guardian/internal/orchestrator"
	"github.com/mbd888/guardian/internal/ratelimit"
	"github.com/mbd888/guardian/internal/realtime"
	"github.com/mbd888/guardian/internal/registry"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/security"
	"github.com/mbd888/guardian/internal/validation"
	"github.com/mbd888/guardian/internal/webhooks"
	"github.com/mbd888/guardian/migrations"
)

// ServiceName is reported by GET /.
const ServiceName = "UPI Guardian Backend"

// Breaker settings for the generative analyzers.
const (
	breakerThreshold    = 5
	breakerOpenDuration = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	registry     *registry.Registry
	engine       *risk.Engine
	breaker      *circuitbreaker.Breaker
	analyzers    []analyzer.Analyzer
	orchestrator *orchestrator.Orchestrator
	service      *guardian.Service
	realtimeHub  *realtime.Hub
	webhooks     *webhooks.Dispatcher
	notifier     *notify.Notifier
	authMgr      *auth.Manager
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAnalyzers replaces the default analyzer set (for testing)
func WithAnalyzers(analyzers ...analyzer.Analyzer) Option {
	return func(s *Server) {
		s.analyzers = analyzers
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}

	// Apply options first (may set analyzers/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Trusted banks
	reg, err := loadRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}
	s.registry = reg
	s.logger.Info("bank registry loaded", "banks", reg.Len(), "path", cfg.RegistryPath)

	// Audit trail (Postgres if DATABASE_URL set, otherwise in-memory)
	var store risk.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if cfg.AutoMigrate {
			n, err := migrations.Up(context.Background(), db)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			s.logger.Info("audit store migrated", "applied", n)
		}

		s.db = db
		pg := risk.NewPostgresStore(db)
		store = pg
		s.health.Register("audit_store", health.PingCheck("audit_store", pg))
		s.logger.Info("using PostgreSQL audit store", "url", maskDSN(cfg.DatabaseURL))
	} else {
		mem := risk.NewMemoryStore()
		store = mem
		s.health.Register("audit_store", health.PingCheck("audit_store", mem))
		s.logger.Info("using in-memory audit store (data will not persist)")
	}

	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = config.DefaultHistorySize
	}
	s.engine = risk.NewEngine(reg, store, s.logger).WithHistorySize(historySize)

	// Generative analyzers share one breaker keyed by analyzer name
	s.breaker = circuitbreaker.New(breakerThreshold, breakerOpenDuration)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("analyzer circuit changed state", "analyzer", key, "from", from.String(), "to", to.String())
	})
	if s.analyzers == nil {
		s.analyzers = analyzer.Defaults(cfg.GenAI().Analyzer(), s.engine.Scam(), s.breaker, s.logger)
		if !cfg.GenAIEnabled() {
			s.logger.Warn("no GEMINI_API_KEY set, generative analyzers will report UNKNOWN")
		}
	}
	s.orchestrator = orchestrator.New(s.analyzers, cfg.AnalyzerDeadline, s.logger)

	// Alert sinks
	s.realtimeHub = realtime.NewHub(s.logger, cfg.AllowedOrigins...)
	var hooks notify.Dispatcher
	if len(cfg.AlertWebhookURLs) > 0 {
		s.webhooks = webhooks.NewDispatcher(cfg.AlertWebhookURLs, cfg.AlertWebhookSecret, s.logger)
		hooks = s.webhooks
		s.logger.Info("alert webhooks enabled", "endpoints", s.webhooks.Endpoints())
	}
	s.notifier = notify.New(s.realtimeHub, hooks, s.logger)

	s.service = guardian.NewService(s.engine, s.orchestrator, s.notifier, s.logger)

	s.authMgr = auth.NewManager(cfg.APIKeys)
	if s.authMgr.Enabled() {
		s.logger.Info("API authentication enabled", "keys", s.authMgr.Len())
	} else {
		s.logger.Warn("API_KEYS not set, /v1 routes are open")
	}

	s.health.Register("bank_registry", health.RegistryCheck(reg.Len))
	s.health.Register("generative_circuits", health.CircuitCheck(s.breaker.OpenKeys))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default()
	}
	reg, err := registry.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank registry: %w", err)
	}
	return reg, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS from ALLOWED_ORIGINS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Resolve the caller before rate limiting so keys get their own bucket
	s.router.Use(auth.Middleware(s.authMgr))
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/", s.rootHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Alert stream; events name entities, so it takes the /v1 key
	s.router.GET("/ws", auth.RequireAuth(s.authMgr), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.rateLimiter = ratelimit.New(ratelimit.FromRPM(s.cfg.RateLimitRPM))
	limit := s.rateLimiter.Middleware(auth.CallerKey)

	handler := guardian.NewHandler(s.service)

	// Unversioned route kept for the web frontend. Rate limited, never keyed.
	public := s.router.Group("/")
	public.Use(limit)
	handler.RegisterPublicRoutes(public)

	v1 := s.router.Group("/v1")
	v1.Use(limit, auth.RequireAuth(s.authMgr))
	handler.RegisterRoutes(v1)

	// Operator routes: window and circuit remediation, stream counters
	ops := v1.Group("")
	ops.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	admin.NewHandler(s.logger).
		WithWindows(s.engine).
		WithCircuits(s.breaker).
		WithStream(s.realtimeHub).
		RegisterRoutes(ops)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Analyzers []string        `json:"analyzers"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"service": ServiceName,
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Analyzers: s.orchestrator.Analyzers(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"analyzers", s.orchestrator.Analyzers(),
			"deadline", s.orchestrator.Deadline().String(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample pool and goroutine stats
	go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Drain background audit writes and alert deliveries
	s.engine.Wait()
	s.notifier.Wait()
	s.logger.Info("pending audit writes and alerts flushed")

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Service returns the guardian service
func (s *Server) Service() *guardian.Service {
	return s.service
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
