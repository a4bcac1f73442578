package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
	"github.com/alanyoungcy/sharemarket/internal/server/handler"
	"github.com/alanyoungcy/sharemarket/internal/server/middleware"
	"github.com/alanyoungcy/sharemarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per window per client IP; 0 disables limiting
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Agreements *handler.AgreementHandler
	Listings   *handler.ListingHandler
	Trades     *handler.TradeHandler
	Governance *handler.GovernanceHandler
	Reconcile  *handler.ReconcileHandler
	Audit      *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server for the share market.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, logging, CORS, auth) and attaches
// the WebSocket hub. The limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Agreement and ledger endpoints.
	mux.HandleFunc("POST /api/agreements", handlers.Agreements.Register)
	mux.HandleFunc("GET /api/agreements", handlers.Agreements.List)
	mux.HandleFunc("GET /api/agreements/{id}", handlers.Agreements.Get)
	mux.HandleFunc("GET /api/agreements/{id}/holders", handlers.Agreements.ListHolders)
	mux.HandleFunc("GET /api/agreements/{id}/balances/{address}", handlers.Agreements.GetBalance)

	// Listing endpoints.
	mux.HandleFunc("POST /api/listings", handlers.Listings.Create)
	mux.HandleFunc("GET /api/listings", handlers.Listings.List)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.Get)
	mux.HandleFunc("DELETE /api/listings/{id}", handlers.Listings.Cancel)

	// Trade endpoints.
	mux.HandleFunc("POST /api/trades/buy", handlers.Trades.Buy)
	mux.HandleFunc("POST /api/trades/resolve", handlers.Trades.ResolvePending)
	mux.HandleFunc("GET /api/trades", handlers.Trades.List)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.Get)
	mux.HandleFunc("GET /api/trades/tx/{hash}", handlers.Trades.GetByTxHash)

	// Governance endpoints.
	mux.HandleFunc("POST /api/proposals", handlers.Governance.CreateProposal)
	mux.HandleFunc("GET /api/proposals", handlers.Governance.ListProposals)
	mux.HandleFunc("GET /api/proposals/{id}", handlers.Governance.GetProposal)
	mux.HandleFunc("DELETE /api/proposals/{id}", handlers.Governance.Cancel)
	mux.HandleFunc("POST /api/proposals/{id}/votes", handlers.Governance.CastVote)
	mux.HandleFunc("GET /api/proposals/{id}/votes", handlers.Governance.ListVotes)
	mux.HandleFunc("GET /api/proposals/{id}/votes/{address}", handlers.Governance.GetVote)
	mux.HandleFunc("POST /api/proposals/{id}/execute", handlers.Governance.Execute)

	// Reconciliation endpoints.
	mux.HandleFunc("POST /api/agreements/{id}/reconcile/plan", handlers.Reconcile.Plan)
	mux.HandleFunc("GET /api/agreements/{id}/reconcile/overlistings", handlers.Reconcile.OverListings)
	mux.HandleFunc("GET /api/reconcile/plans", handlers.Reconcile.ListPlans)
	mux.HandleFunc("GET /api/reconcile/plans/{id}", handlers.Reconcile.GetPlan)
	mux.HandleFunc("POST /api/reconcile/plans/{id}/apply", handlers.Reconcile.Apply)
	mux.HandleFunc("POST /api/reconcile/plans/{id}/discard", handlers.Reconcile.Discard)

	// Audit log endpoint.
	mux.HandleFunc("GET /api/audit", handlers.Audit.List)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting if configured.
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
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
