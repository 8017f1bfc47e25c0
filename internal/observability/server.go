// Package observability provides the HTTP server for health checks and
// Prometheus metrics endpoints.
//
// # Endpoints
//
//   - GET /healthz: Health check endpoint. Returns 200 while the process is
//     running.
//
//   - GET /readyz: Readiness check endpoint. Returns 200 once the MCP
//     transport is accepting calls.
//
//   - GET /metrics: Prometheus metrics in text exposition format.
//
// # Custom Metrics
//
//	┌──────────────────────────────────────┬─────────┬──────────────────────────────────────┐
//	│ Metric Name                          │ Type    │ Description                          │
//	├──────────────────────────────────────┼─────────┼──────────────────────────────────────┤
//	│ frihet_api_requests_total            │ Counter │ Upstream HTTP attempts               │
//	│ frihet_api_errors_total              │ Counter │ Upstream failures by error code      │
//	│ frihet_api_latency_seconds           │ Hist    │ Upstream attempt latency             │
//	│ frihet_api_retries_total             │ Counter │ 429 retries scheduled                │
//	│ frihet_tool_calls_total              │ Counter │ MCP tool calls by outcome            │
//	│ frihet_tool_call_duration_seconds    │ Hist    │ MCP tool call duration               │
//	│ frihet_audit_events_total            │ Counter │ Audit events by publish outcome      │
//	└──────────────────────────────────────┴─────────┴──────────────────────────────────────┘
//
// # Usage
//
//	srv := observability.NewServer(":9090", logger)
//	go srv.Start(ctx)
//	// When ready:
//	srv.SetReady(true)
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ----- Prometheus Metrics -----

// Metrics holds all Prometheus metrics used by the server.
// Using promauto for automatic registration with the default registry.
var Metrics = struct {
	// Upstream API metrics
	APIRequestsTotal *prometheus.CounterVec
	APIErrorsTotal   *prometheus.CounterVec
	APILatency       *prometheus.HistogramVec
	APIRetriesTotal  *prometheus.CounterVec

	// Tool metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Audit metrics
	AuditEventsTotal *prometheus.CounterVec
}{
	APIRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frihet_api_requests_total",
		Help: "Total number of HTTP attempts sent to the Frihet API.",
	}, []string{"method", "resource"}),

	APIErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frihet_api_errors_total",
		Help: "Total number of Frihet API failures by error code.",
	}, []string{"method", "code"}),

	APILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frihet_api_latency_seconds",
		Help:    "Frihet API response latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "resource"}),

	APIRetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frihet_api_retries_total",
		Help: "Total number of retries scheduled after a 429 response.",
	}, []string{"resource"}),

	ToolCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frihet_tool_calls_total",
		Help: "Total number of MCP tool calls by outcome.",
	}, []string{"tool", "outcome"}),

	ToolCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frihet_tool_call_duration_seconds",
		Help:    "Duration of MCP tool calls, including upstream retries.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"tool"}),

	AuditEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frihet_audit_events_total",
		Help: "Total number of tool-call audit events by publish outcome.",
	}, []string{"outcome"}),
}

// ----- Health/Readiness Server -----

// Server provides HTTP endpoints for health checks, readiness checks,
// and Prometheus metrics.
type Server struct {
	addr   string
	ready  atomic.Bool
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new observability HTTP server.
func NewServer(addr string, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger.With("component", "observability"),
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the mux serving /healthz, /readyz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start begins listening for HTTP requests. Blocks until the context is
// cancelled, then gracefully shuts down the server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("observability server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down observability server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("observability server: %w", err)
	}
	return nil
}

// SetReady marks the server as ready (or not ready) for /readyz.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Info("readiness state changed", "ready", ready)
}

// handleHealth responds with 200 OK: the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"healthy"}`)
}

// handleReady responds with 200 if ready, 503 if not yet ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ready"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, `{"status":"not_ready"}`)
	}
}
