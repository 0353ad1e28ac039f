package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	shutdownTimeout time.Duration

	// Services
	orchestration driving.OrchestrationService
	integrations  driving.IntegrationService

	// Infrastructure
	tokens  driven.ServiceTokenAdapter
	metrics http.Handler // Prometheus exposition (optional)
	db      Pinger       // PostgreSQL health check
	redis   Pinger       // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	Version         string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	orchestration driving.OrchestrationService,
	integrations driving.IntegrationService,
	tokens driven.ServiceTokenAdapter,
	metrics http.Handler, // can be nil
	db Pinger,
	redis Pinger, // can be nil
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router:        http.NewServeMux(),
		version:       cfg.Version,
		logger:        logger,
		orchestration: orchestration,
		integrations:  integrations,
		tokens:        tokens,
		metrics:       metrics,
		db:            db,
		redis:         redis,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.shutdownTimeout = cfg.ShutdownTimeout

	s.setupRoutes()
	return s
}

// Handler returns the router wrapped in recovery and request logging.
func (s *Server) Handler() http.Handler {
	return NewRecoveryMiddleware(s.logger).Handler(
		NewLoggingMiddleware(s.logger).Handler(s.router))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.tokens)
	seller := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(authMiddleware.RequireSeller(h))
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}

	// Provider catalogue
	s.router.Handle("GET /api/v1/providers",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListProviders)))

	// Integration lifecycle
	s.router.Handle("POST /api/v1/sellers/{seller}/integrations", seller(s.handleConnect))
	s.router.Handle("GET /api/v1/sellers/{seller}/integrations", seller(s.handleListIntegrations))
	s.router.Handle("GET /api/v1/sellers/{seller}/integrations/{provider}", seller(s.handleGetIntegration))
	s.router.Handle("PATCH /api/v1/sellers/{seller}/integrations/{provider}", seller(s.handleUpdateIntegration))
	s.router.Handle("DELETE /api/v1/sellers/{seller}/integrations/{provider}", seller(s.handleDisconnect))

	// Provider operations
	s.router.Handle("POST /api/v1/sellers/{seller}/integrations/{provider}/orders", seller(s.handleCreateOrder))
	s.router.Handle("GET /api/v1/sellers/{seller}/integrations/{provider}/inventory", seller(s.handleInventory))
	s.router.Handle("GET /api/v1/sellers/{seller}/orders/{order}", seller(s.handleGetOrder))
	s.router.Handle("POST /api/v1/sellers/{seller}/orders/{order}/refresh", seller(s.handleRefreshOrder))

	// Batch syncs
	s.router.Handle("POST /api/v1/sellers/{seller}/syncs", seller(s.handleStartSync))
	s.router.Handle("GET /api/v1/sellers/{seller}/syncs", seller(s.handleListSyncs))
	s.router.Handle("GET /api/v1/sellers/{seller}/syncs/{sync}", seller(s.handleGetSync))
	s.router.Handle("POST /api/v1/sellers/{seller}/syncs/{sync}/cancel", seller(s.handleCancelSync))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
