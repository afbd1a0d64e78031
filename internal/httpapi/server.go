// Package httpapi is the gateway's HTTP surface: route dispatch, the
// admission and deadline middlewares, and JSON encoding/decoding for the
// predict/health/metrics endpoints. It owns no pipeline state itself —
// everything it touches (queue, registry) is constructed and injected by
// the caller.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/YheChen/MLInference/internal/audit"
	"github.com/YheChen/MLInference/internal/metrics"
	"github.com/YheChen/MLInference/internal/queue"
)

// Config controls the listener and the two middlewares' tunables.
type Config struct {
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	RequestTimeout     time.Duration // D
	QueueHighWatermark int           // H

	// AdmissionRatePerSec and AdmissionBurst configure the token-bucket
	// shaping gate ahead of the occupancy check. Zero rate disables it.
	AdmissionRatePerSec float64
	AdmissionBurst      int
}

// DefaultConfig returns conservative HTTP server timeouts. RequestTimeout
// and QueueHighWatermark have no sane default independent of the rest of
// the pipeline and must be set by the caller from the loaded Config.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the deadline middleware is authoritative for /predict
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the gateway's HTTP listener.
type Server struct {
	httpServer *http.Server
	cfg        Config
	limiter    atomic.Pointer[rate.Limiter]
}

// NewServer wires routes and middleware around q and reg. It first checks
// that cfg.Addr can be bound by binding and immediately releasing it
// (mirrors how this codebase verifies port availability before handing
// back a constructed Server); Start binds the address again to serve.
// auditWriter may be nil, in which case terminal outcomes are not persisted.
func NewServer(cfg Config, q *queue.Queue, reg *metrics.Registry, auditWriter *audit.Writer) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("address %s is busy or unavailable: %w", cfg.Addr, err)
	}
	listener.Close()

	h := NewHandlers(q, reg, auditWriter)
	router := mux.NewRouter()

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.Handle("/metrics", h.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/predict", h.Predict).Methods(http.MethodPost)

	s := &Server{cfg: cfg}
	if cfg.AdmissionRatePerSec > 0 {
		s.limiter.Store(rate.NewLimiter(rate.Limit(cfg.AdmissionRatePerSec), cfg.AdmissionBurst))
	}

	// Order matters: request-id and logging wrap everything; admission is
	// the fast, non-suspending check and runs before the deadline timer
	// starts, so a rejected request never pays for its own wall-clock
	// budget; deadline is innermost, wrapping only the handler's await.
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(admissionMiddleware(q.Size, cfg.QueueHighWatermark, s.limiter.Load, reg))
	router.Use(deadlineMiddleware(cfg.RequestTimeout, reg))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// SetAdmissionRate hot-swaps the admission token bucket, letting a config
// reload retune shaping without restarting the listener. A non-positive
// ratePerSec disables rate shaping (only the occupancy check applies).
func (s *Server) SetAdmissionRate(ratePerSec float64, burst int) {
	if ratePerSec <= 0 {
		s.limiter.Store(nil)
		return
	}
	s.limiter.Store(rate.NewLimiter(rate.Limit(ratePerSec), burst))
}

// Start runs the HTTP listener, blocking until it errors or is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("httpapi: listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight connections within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("httpapi: shutting down")
	return s.httpServer.Shutdown(ctx)
}
