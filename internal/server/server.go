// Package server wires the HTTP surface: middleware, routes and the
// analysis pipeline behind them.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/hshadab/rugdetector/internal/analyzer"
	"github.com/hshadab/rugdetector/internal/config"
	"github.com/hshadab/rugdetector/internal/features"
	"github.com/hshadab/rugdetector/internal/health"
	"github.com/hshadab/rugdetector/internal/idgen"
	"github.com/hshadab/rugdetector/internal/inference"
	"github.com/hshadab/rugdetector/internal/logging"
	"github.com/hshadab/rugdetector/internal/metrics"
	"github.com/hshadab/rugdetector/internal/payments"
	"github.com/hshadab/rugdetector/internal/proof"
	"github.com/hshadab/rugdetector/internal/ratelimit"
	"github.com/hshadab/rugdetector/internal/security"
	"github.com/hshadab/rugdetector/internal/traces"
	"github.com/hshadab/rugdetector/internal/validation"
	"github.com/hshadab/rugdetector/pkg/x402"
)

const version = "2.0.0"

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg       *config.Config
	tracker   *payments.Tracker
	verifier  analyzer.PaymentVerifier
	extractor features.Extractor
	engine    *inference.Engine
	proofs    proof.Backend
	service   *analyzer.Service
	handlers  *analyzer.Handlers
	health    *health.Registry
	proverUp  bool

	limiter     *ratelimit.Limiter
	paidLimiter *ratelimit.Limiter

	db           *sql.DB // nil if using in-memory payment store
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	tracesStop   func(context.Context) error
	cancelRunCtx context.CancelFunc

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVerifier injects a payment verifier (for testing).
func WithVerifier(v analyzer.PaymentVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithExtractor injects a feature extractor (for testing).
func WithExtractor(e features.Extractor) Option {
	return func(s *Server) { s.extractor = e }
}

// WithModel injects a loaded model (for testing).
func WithModel(m inference.Model) Option {
	return func(s *Server) { s.engine = inference.NewEngine(m) }
}

// New creates a server instance from configuration.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		health: health.NewRegistry(),
	}

	// Apply options first (may inject verifier/extractor/model)
	for _, opt := range opts {
		opt(s)
	}

	// Payment store: Postgres when configured, otherwise in-memory.
	var store payments.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		store = payments.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL payment store", "url", maskDSN(cfg.DatabaseURL))
	} else {
		store = payments.NewMemoryStore()
		s.logger.Info("using in-memory payment store (replay state will not survive restarts)")
	}
	s.tracker = payments.NewTracker(store, cfg.ReplayTTL, cfg.SweepInterval, s.logger)

	if s.verifier == nil {
		v, err := payments.NewVerifier(payments.VerifierConfig{
			RPCURL:       cfg.PaymentRPCURL,
			USDCContract: common.HexToAddress(cfg.USDCContract),
			Recipient:    common.HexToAddress(cfg.PaymentRecipient),
			MinAmount:    cfg.Price,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create payment verifier: %w", err)
		}
		s.verifier = v
	}

	if s.extractor == nil {
		ex, err := features.NewSubprocess(cfg.ExtractorCommand, cfg.ExtractorTimeout, cfg.ChainRPCURLs, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create feature extractor: %w", err)
		}
		s.extractor = ex
	}

	if s.engine == nil {
		model, err := inference.LoadONNX(cfg.ModelPath, cfg.OnnxLibraryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
		s.engine = inference.NewEngine(model)
		s.logger.Info("model loaded", "path", cfg.ModelPath)
	}

	commitments := proof.NewCommitmentBackend(cfg.ModelPath, s.logger)
	jolt := proof.NewJoltBackend(cfg.ProverBinary, cfg.ModelPath, cfg.ProofTimeout, cfg.ProofVerifyTimeout, commitments, s.logger)
	s.proofs = jolt
	s.proverUp = jolt.Available()

	s.service = analyzer.NewService(s.tracker, s.verifier, s.extractor, s.engine, s.proofs, s.logger)
	s.handlers = analyzer.NewHandlers(s.service, x402.PaymentRequirement{
		Scheme:      "exact",
		Network:     cfg.PaymentNetwork,
		ChainID:     cfg.PaymentChainID,
		Currency:    "USDC",
		Amount:      cfg.Price,
		Recipient:   cfg.PaymentRecipient,
		Description: "Smart contract rug-pull risk analysis",
	})

	s.registerHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) registerHealthChecks() {
	s.health.Register("payment_store", func(ctx context.Context) health.Status {
		if s.db != nil {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Bad("payment_store", "database unreachable")
			}
			return health.OK("payment_store", "postgres")
		}
		return health.OK("payment_store", "memory")
	})
	s.health.Register("model", func(ctx context.Context) health.Status {
		if _, err := os.Stat(s.cfg.ModelPath); err != nil {
			return health.Bad("model", "model file missing")
		}
		return health.OK("model", s.cfg.ModelPath)
	})
	// Proof generation degrades to commitments without the prover, so
	// missing prover is reported as a detail, never as unhealthy.
	s.health.Register("prover", func(ctx context.Context) health.Status {
		if s.proverUp {
			return health.OK("prover", "jolt")
		}
		return health.OK("prover", "commitment fallback")
	})
}

// maskDSN hides the password in a connection string for logging.
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
			"success": false,
			"error":   "an unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Global rate limiting. Probes and scrapes are exempt so an abusive
	// client cannot starve orchestration health checks.
	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitPerMinute,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	limit := s.limiter.Middleware()
	s.router.Use(func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/health") || p == "/metrics" {
			c.Next()
			return
		}
		limit(c)
	})

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// The paid path gets a tighter secondary limiter: analyses are
	// expensive (subprocess + RPC + inference) even before payment.
	s.paidLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.PaidLimitPerMinute,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	paid := s.router.Group("")
	paid.Use(s.paidLimiter.Middleware())
	s.handlers.RegisterRoutes(paid)
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "rugdetector",
		"version": version,
		"endpoints": gin.H{
			"check":       "POST /check",
			"proofVerify": "POST /proof/verify",
			"health":      "GET /health",
			"metrics":     "GET /metrics",
		},
		"payment": gin.H{
			"currency":  "USDC",
			"amount":    s.cfg.Price,
			"network":   s.cfg.PaymentNetwork,
			"chainId":   s.cfg.PaymentChainID,
			"recipient": s.cfg.PaymentRecipient,
		},
		"chains": []string{"ethereum", "bsc", "polygon"},
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   version,
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until a shutdown signal or context
// cancellation.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if s.cfg.OTLPEndpoint != "" {
		stop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing", "error", err)
		} else {
			s.tracesStop = stop
		}
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      3 * time.Minute, // proof generation can be slow
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"network", s.cfg.PaymentNetwork,
			"price", s.cfg.Price,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Background sweep of expired payment records
	go s.tracker.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	s.tracker.Stop()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.paidLimiter != nil {
		s.paidLimiter.Stop()
	}

	if v, ok := s.verifier.(interface{ Close() }); ok {
		v.Close()
	}

	if err := s.engine.Close(); err != nil {
		s.logger.Error("model close error", "error", err)
	}

	if s.tracesStop != nil {
		if err := s.tracesStop(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

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
