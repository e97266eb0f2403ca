// Package server wires the coordinator together and serves the HTTP API.
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
	"github.com/paisahub/dealdesk/internal/ads"
	"github.com/paisahub/dealdesk/internal/auth"
	"github.com/paisahub/dealdesk/internal/chain"
	"github.com/paisahub/dealdesk/internal/config"
	"github.com/paisahub/dealdesk/internal/deal"
	"github.com/paisahub/dealdesk/internal/dispute"
	"github.com/paisahub/dealdesk/internal/health"
	"github.com/paisahub/dealdesk/internal/logging"
	"github.com/paisahub/dealdesk/internal/metrics"
	"github.com/paisahub/dealdesk/internal/notify"
	"github.com/paisahub/dealdesk/internal/ratelimit"
	"github.com/paisahub/dealdesk/internal/realtime"
	"github.com/paisahub/dealdesk/internal/reconcile"
	"github.com/paisahub/dealdesk/internal/reputation"
	"github.com/paisahub/dealdesk/internal/security"
	"github.com/paisahub/dealdesk/internal/users"
	"github.com/paisahub/dealdesk/internal/validation"
	"github.com/paisahub/dealdesk/internal/watcher"
)

// Server wraps the HTTP server and all coordinator components.
type Server struct {
	cfg         *config.Config
	chainClient *chain.Client
	authMgr     *auth.Manager
	engine      *reconcile.Engine
	dealService *deal.Service
	dealTimer   *deal.Timer
	disputes    *dispute.Service
	reputation  *reputation.Service
	escrowWatch *watcher.Watcher
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	cancelRun   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChainClient injects a contract client (used by tests).
func WithChainClient(c *chain.Client) Option {
	return func(s *Server) {
		s.chainClient = c
	}
}

// New builds the full coordinator: stores, chain client, transition
// engine, services, background workers, and routes. Postgres when
// DATABASE_URL is set, in-memory otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage
	var (
		dealStore    deal.Store
		disputeStore dispute.Store
		directory    users.Directory
		adRegistry   ads.Registry
		cursorStore  watcher.CursorStore
		authStore    auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping database %s: %w", maskDSN(cfg.DatabaseURL), err)
		}

		s.db = db
		dealStore = deal.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		directory = users.NewPostgresDirectory(db)
		adRegistry = ads.NewPostgresRegistry(db)
		cursorStore = watcher.NewPostgresCursorStore(db)
		authStore = auth.NewPostgresStore(db)
		s.checks.Register("database", health.DatabaseChecker(db))
		s.logger.Info("using postgres storage", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		dealStore = deal.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		directory = users.NewMemoryDirectory()
		adRegistry = ads.NewMemoryRegistry()
		cursorStore = watcher.NewMemoryCursorStore()
		authStore = auth.NewMemoryStore()
		s.logger.Warn("DATABASE_URL not set, using in-memory storage (demo mode)")
	}

	// Chain client, unless a test injected one
	if s.chainClient == nil {
		client, err := chain.New(chain.Config{
			RPCURL:         cfg.RPCURL,
			ChainID:        cfg.ChainID,
			EscrowContract: cfg.EscrowContract,
			ArbitratorKey:  cfg.ArbitratorKey,
		})
		if err != nil {
			return nil, fmt.Errorf("chain client: %w", err)
		}
		s.chainClient = client
	}
	s.checks.Register("chain", health.ChainChecker(s.chainClient))

	// Notifications: realtime hub plus a log audit trail
	s.realtimeHub = realtime.NewHub(s.logger)
	emitter := notify.NewEmitter(s.logger, s.realtimeHub, &notify.LogSink{Logger: s.logger})

	// Reputation
	s.reputation = reputation.NewService(reputation.NewDealProvider(dealStore), directory)

	// Transition engine: the single write path for deal state
	s.engine = reconcile.NewEngine(dealStore, s.chainClient, s.reputation,
		adRegistry, emitter, cfg.EmergencyGrace, s.logger)

	// Services
	s.dealService = deal.NewService(dealStore, s.engine, adRegistry, directory,
		emitter, cfg.DealTimeout, cfg.EscrowContract)
	s.disputes = dispute.NewService(disputeStore, dealStore, s.engine,
		s.chainClient, emitter, cfg.ArbitratorID, s.logger)
	s.authMgr = auth.NewManager(authStore)

	// Background workers
	s.dealTimer = deal.NewTimer(dealStore, s.engine, cfg.SweepInterval, s.logger)
	s.checks.Register("deal_sweeper", health.SweeperChecker("deal_sweeper", s.dealTimer))

	s.escrowWatch = watcher.New(watcher.Config{
		Contract:      cfg.EscrowContract,
		PollInterval:  cfg.WatchInterval,
		FinalityDepth: cfg.FinalityDepth,
	}, s.chainClient, dealStore, s.engine, cursorStore, directory, s.logger).
		WithDisputeResolver(s.disputes)

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

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

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// API key extraction (non-rejecting; RequireAuth guards routes)
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
	// Health and observability
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/livez", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Deal lifecycle. Every route needs an authenticated trader.
	dealGroup := v1.Group("", auth.RequireAuth())
	deal.NewHandler(s.dealService).RegisterRoutes(dealGroup)
	dispute.NewHandler(s.disputes).RegisterRoutes(dealGroup)

	// Reputation is public read
	reputation.NewHandler(s.reputation).RegisterRoutes(v1)

	// API key management
	auth.NewHandler(s.authMgr).RegisterRoutes(v1)

	// Realtime notification stream
	v1.GET("/ws", auth.RequireAuth(), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(auth.CallerID(c), c.Writer, c.Request)
	})
	v1.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	s.router.GET("/", s.infoHandler)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "DealDesk",
		"description": "Deal lifecycle coordinator for P2P crypto-INR trades",
		"version":     "0.1.0",
		"contract":    s.cfg.EscrowContract,
		"chainId":     s.cfg.ChainID,
		// The fee the contract takes from the seller's payout; clients
		// show it before a deal is opened.
		"platformFeeBps": s.cfg.PlatformFeeBPS,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and all background workers, then blocks
// until a shutdown signal or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"contract", s.cfg.EscrowContract,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Realtime hub
	go s.realtimeHub.Run(runCtx)

	// Escrow event watcher
	if err := s.escrowWatch.Start(runCtx); err != nil {
		s.logger.Error("failed to start escrow watcher", "error", err)
	}

	// Expiry sweeper
	go s.dealTimer.Start(runCtx)

	// DB stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timer, watcher)
	if s.cancelRun != nil {
		s.cancelRun()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.dealTimer.Stop()
	s.logger.Info("deal sweeper stopped")

	s.escrowWatch.Stop()
	s.logger.Info("escrow watcher stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	s.chainClient.Close()

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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
