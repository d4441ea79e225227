// Package server implements the oracle's HTTP API: paid and demo score
// reads backed by the on-chain TrustScore record.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/robomoustach/oracle/internal/chain"
	"github.com/robomoustach/oracle/internal/ratelimit"
	"github.com/robomoustach/oracle/internal/x402"
)

// ScoreReader reads the on-chain score record. *chain.TrustScore implements it.
type ScoreReader interface {
	DetailedReport(ctx context.Context, agentID *big.Int) (chain.Report, error)
}

// Server is the oracle HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Payments, Limiter.
type Config struct {
	// Required dependencies.
	Scores ScoreReader
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Payments *x402.Verifier    // nil serves paid routes without charging
	Limiter  ratelimit.Limiter // nil disables demo rate limiting

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string

	// Response shaping.
	ConfidenceThresholdFeedbackCount int
	NegativeFlagThresholdBps         int
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	if cfg.ConfidenceThresholdFeedbackCount <= 0 {
		cfg.ConfidenceThresholdFeedbackCount = 50
	}
	if cfg.NegativeFlagThresholdBps <= 0 {
		cfg.NegativeFlagThresholdBps = 2000
	}
	h := &handlers{
		scores:              cfg.Scores,
		logger:              cfg.Logger,
		version:             cfg.Version,
		confidenceThreshold: cfg.ConfidenceThresholdFeedbackCount,
		negativeFlagBps:     cfg.NegativeFlagThresholdBps,
	}

	demoRL := demoRateLimitMiddleware(cfg.Limiter)
	paid := paymentMiddleware(cfg.Payments)

	mux := http.NewServeMux()

	// Score reads. Paid unless ?demo=true; demo requests are IP rate limited.
	mux.Handle("GET /score/{agentId}", demoRL(paid(http.HandlerFunc(h.HandleScore))))
	mux.Handle("GET /report/{agentId}", demoRL(paid(http.HandlerFunc(h.HandleReport))))

	// Health (no payment, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
