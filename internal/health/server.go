package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vietddude/resilio/internal/core/domain"
)

// ErrorSource exposes the aggregator's state.
type ErrorSource interface {
	Groups() []domain.ErrorGroup
	Recent() []domain.ErrorRecord
}

// ServerOptions configures optional endpoints of the Server.
type ServerOptions struct {
	Errors ErrorSource
	// Peers returns the propagation registry snapshot.
	Peers func() any
	// Transport returns per-host request stats of the outbound transport.
	Transport func() any
	Traced    bool
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor *Monitor
	opts    ServerOptions
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, port int, opts ServerOptions) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		opts:    opts,
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	if opts.Errors != nil {
		mux.HandleFunc("/errors", s.handleErrors)
	}
	if opts.Peers != nil {
		mux.HandleFunc("/peers", s.handlePeers)
	}
	if opts.Transport != nil {
		mux.HandleFunc("/transport", s.handleTransport)
	}

	var handler http.Handler = mux
	if opts.Traced {
		handler = otelhttp.NewHandler(mux, "health")
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth answers from the last completed poll and never probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Status()

	status := http.StatusOK
	if report.Overall == domain.OverallUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.Overall)})
}

// handleDetailed probes on demand when ?refresh=true, otherwise returns the last poll.
func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": s.opts.Errors.Groups(),
		"recent": s.opts.Errors.Recent(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Peers())
}

func (s *Server) handleTransport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Transport())
}
