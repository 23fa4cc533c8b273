package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/server/handler"
	"github.com/alanyoungcy/escrowd/internal/server/middleware"
	"github.com/alanyoungcy/escrowd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter enables per-client request limiting when non-nil.
	RateLimiter domain.RateLimiter
	RateLimit   int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// A nil handler simply skips its routes, so the server can run without a
// chain client or a dispute store wired in.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Deals    *handler.DealHandler
	Disputes *handler.DisputeHandler
	Actions  *handler.ActionHandler
	Audit    *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server for the escrow backend.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Deal endpoints.
	if handlers.Deals != nil {
		mux.HandleFunc("POST /api/deals", handlers.Deals.CreateDeal)
		mux.HandleFunc("GET /api/deals", handlers.Deals.ListDeals)
		mux.HandleFunc("GET /api/deals/{id}", handlers.Deals.GetDeal)
		mux.HandleFunc("PATCH /api/deals/{id}/status", handlers.Deals.UpdateStatus)
		mux.HandleFunc("GET /api/deals/{id}/milestones/{index}/eligibility", handlers.Deals.MilestoneEligibility)
		mux.HandleFunc("GET /api/templates", handlers.Deals.ListTemplates)
	}

	// Dispute endpoints.
	if handlers.Disputes != nil {
		mux.HandleFunc("GET /api/deals/{id}/dispute", handlers.Disputes.GetDispute)
		mux.HandleFunc("GET /api/deals/{id}/ruling", handlers.Disputes.GetRuling)
		mux.HandleFunc("GET /api/disputes", handlers.Disputes.ListDisputes)
	}

	// Transaction endpoints.
	if handlers.Actions != nil {
		mux.HandleFunc("POST /api/deals/{id}/fund", handlers.Actions.Fund)
		mux.HandleFunc("POST /api/deals/{id}/bind", handlers.Actions.Bind)
		mux.HandleFunc("POST /api/deals/{id}/release", handlers.Actions.Release)
		mux.HandleFunc("POST /api/deals/{id}/dispute", handlers.Actions.Dispute)
		mux.HandleFunc("POST /api/deals/{id}/resolve", handlers.Actions.Resolve)
		mux.HandleFunc("GET /api/deals/{id}/actions", handlers.Actions.ListActions)
		mux.HandleFunc("GET /api/actions/{id}", handlers.Actions.GetAction)
	}

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
		mux.HandleFunc("GET /api/deals/{id}/audit", handlers.Audit.ListDealEntries)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is wired.
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, time.Second)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

