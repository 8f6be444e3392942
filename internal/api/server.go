package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/correlator-io/sdbridge/internal/api/middleware"
	"github.com/correlator-io/sdbridge/internal/bridge"
	"github.com/correlator-io/sdbridge/internal/detection"
	"github.com/correlator-io/sdbridge/internal/stage"
)

const serviceName = "sdbridge"

type (
	// DetectionStore answers bridge queries. It is implemented by *bridge.Repository.
	DetectionStore interface {
		FindByIDs(ctx context.Context, ids []uuid.UUID, s stage.Stage) ([]detection.SignalDetection, error)
		FindByStationsAndTime(
			ctx context.Context,
			stations []string,
			start, end time.Time,
			s stage.Stage,
			excluded []uuid.UUID,
		) ([]detection.SignalDetection, error)
		FindHypothesesByIDs(ctx context.Context, ids []detection.HypothesisID) ([]detection.Hypothesis, error)
		FindFilterRecordsForHypotheses(
			ctx context.Context,
			hypotheses []detection.HypothesisID,
		) (bridge.BatchResult[bridge.FilterTable], error)
	}

	// SegmentIndex resolves a channel segment to its wfdisc ids. It is implemented by the
	// bridge segment caches.
	SegmentIndex interface {
		Lookup(ctx context.Context, segment detection.SegmentDescriptor) ([]int64, error)
	}

	// HealthChecker reports whether a backing service is reachable.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies are the runtime collaborators of the server.
	Dependencies struct {
		Detections DetectionStore
		// Segments enables GET /api/v1/segments when set.
		Segments SegmentIndex
		// RateLimiter enables rate limiting when set. It is closed on shutdown if it
		// implements io.Closer.
		RateLimiter middleware.RateLimiter
		// HealthChecks are probed by GET /ready, keyed by a name used in failure responses.
		HealthChecks map[string]HealthChecker
		Version      string
		Logger       *slog.Logger
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer  *http.Server
		handler     http.Handler
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		version     string
		detections  DetectionStore
		segments    SegmentIndex
		checks      map[string]HealthChecker
		rateLimiter middleware.RateLimiter
	}
)

// ErrMissingDetectionStore is returned by NewServer without a DetectionStore.
var ErrMissingDetectionStore = errors.New("detection store is required")

// NewServer creates a new HTTP server instance with structured logging and middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig. This
// follows the dependency injection pattern where configuration (what) is separated from
// dependencies (how).
func NewServer(cfg *ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Detections == nil {
		return nil, ErrMissingDetectionStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.LogLevel,
		}))
	}

	version := deps.Version
	if version == "" {
		version = "dev"
	}

	server := &Server{
		logger:      logger,
		config:      cfg,
		version:     version,
		detections:  deps.Detections,
		segments:    deps.Segments,
		checks:      deps.HealthChecks,
		rateLimiter: deps.RateLimiter,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if deps.RateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	if deps.Segments == nil {
		logger.Warn("Segment index not configured - segment lookups disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Tracing - server span around everything that does work
	//   4. ClientIdentity - read X-Client-ID for rate limiting and logs
	//   5. RateLimit - block requests before expensive legacy queries (optional)
	//   6. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   7. CORS - lightweight header manipulation
	//   8. Metrics - innermost so the matched route pattern is visible
	server.handler = middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithTracing(),
		middleware.WithClientIdentity(),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(&cfg.CORS),
		middleware.WithMetrics(),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      server.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals and when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting signal detection bridge API server",
			slog.String("address", s.config.Address()),
			slog.String("version", s.version),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal", slog.String("cause", context.Cause(ctx).Error()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Stop the InMemoryRateLimiter cleanup goroutine
	if limiter, ok := s.rateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
