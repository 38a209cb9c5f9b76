// Package server assembles the ledger's HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/spotledger/internal/domain"
	"github.com/alanyoungcy/spotledger/internal/server/handler"
	"github.com/alanyoungcy/spotledger/internal/server/middleware"
	"github.com/alanyoungcy/spotledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter and RateLimitPerMin enable per-IP limiting when both are
	// set.
	RateLimiter     domain.RateLimiter
	RateLimitPerMin int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Trades    *handler.TradeHandler
	History   *handler.HistoryHandler
	Reconcile *handler.ReconcileHandler

	// MarketData is optional; nil when no shared cache is configured.
	MarketData *handler.MarketDataHandler
}

// Server is the ledger's HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. wsHub may be nil,
// in which case /ws is not served.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	h := Routes(cfg, handlers, wsHub, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Routes builds the routed, middleware-wrapped handler.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{exchange}/{symbol}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/summary", handlers.Positions.Summary)

	mux.HandleFunc("POST /api/buys/validate", handlers.Trades.ValidateBuy)
	mux.HandleFunc("POST /api/sells/validate", handlers.Trades.ValidateSell)
	mux.HandleFunc("POST /api/fills/buy", handlers.Trades.RecordBuy)
	mux.HandleFunc("POST /api/fills/sell", handlers.Trades.RecordSell)

	mux.HandleFunc("GET /api/trades", handlers.History.ListTrades)
	mux.HandleFunc("GET /api/discrepancies", handlers.History.ListDiscrepancies)
	mux.HandleFunc("GET /api/history/positions/{id}", handlers.History.GetPosition)
	mux.HandleFunc("GET /api/audit", handlers.History.ListAudit)
	mux.HandleFunc("POST /api/reconcile/{exchange}", handlers.Reconcile.Reconcile)

	if handlers.MarketData != nil {
		mux.HandleFunc("POST /api/balances/{exchange}", handlers.MarketData.PutBalances)
		mux.HandleFunc("POST /api/prices/{exchange}", handlers.MarketData.PutPrices)
		mux.HandleFunc("GET /api/prices/{exchange}/{symbol}", handlers.MarketData.GetPrice)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if cfg.RateLimiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMin, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
