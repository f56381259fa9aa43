package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
	"github.com/alanyoungcy/pricealertbot/internal/server/handler"
	"github.com/alanyoungcy/pricealertbot/internal/server/middleware"
	"github.com/alanyoungcy/pricealertbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// limiting, as does a nil limiter.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers. Nil
// handlers leave their routes unregistered.
type Handlers struct {
	Health        *handler.HealthHandler
	Subscriptions *handler.SubscriptionHandler
	Alerts        *handler.AlertHandler
	Prices        *handler.PriceHandler
	Evaluator     *handler.EvaluatorHandler
}

// Server is the HTTP + WebSocket management API for the alert bot.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}

	if s := handlers.Subscriptions; s != nil {
		mux.HandleFunc("GET /api/owners/{owner}/subscriptions", s.List)
		mux.HandleFunc("GET /api/owners/{owner}/subscriptions/{symbol}", s.Get)
		mux.HandleFunc("PUT /api/owners/{owner}/subscriptions/{symbol}", s.Upsert)
		mux.HandleFunc("DELETE /api/owners/{owner}/subscriptions/{symbol}", s.Delete)
		mux.HandleFunc("PUT /api/owners/{owner}/subscriptions/{symbol}/thresholds", s.SetThresholds)
		mux.HandleFunc("GET /api/owners/{owner}/portfolio", s.Portfolio)
	}

	if handlers.Alerts != nil {
		mux.HandleFunc("GET /api/owners/{owner}/alerts", handlers.Alerts.List)
	}

	if handlers.Prices != nil {
		mux.HandleFunc("GET /api/prices", handlers.Prices.List)
		mux.HandleFunc("GET /api/prices/{symbol}", handlers.Prices.Get)
	}

	if handlers.Evaluator != nil {
		mux.HandleFunc("POST /api/evaluator/trigger", handlers.Evaluator.Trigger)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
