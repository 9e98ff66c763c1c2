package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readyCheckTimeout = 2 * time.Second

// ReadyCheck reports whether a dependency (database, cache, broker) is usable.
type ReadyCheck func(ctx context.Context) error

// Server serves Prometheus metrics and liveness/readiness probes over HTTP.
//
//	/metrics  Prometheus exposition
//	/health   always "ok" while the process is serving
//	/ready    runs every registered ReadyCheck, 503 when any fails
type Server struct {
	httpServer *http.Server
	checks     map[string]ReadyCheck
}

// NewServer creates a metrics HTTP server listening on addr (e.g., ":9090").
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	s := &Server{checks: make(map[string]ReadyCheck)}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck // best-effort health response
	})
	mux.HandleFunc("/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// AddReadyCheck registers a named readiness check. Must be called before Start.
func (s *Server) AddReadyCheck(name string, check ReadyCheck) {
	s.checks[name] = check
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(strings.Join(failed, "\n"))) //nolint:errcheck // best-effort probe response
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready")) //nolint:errcheck // best-effort probe response
}

// Start begins serving metrics. This is non-blocking.
// Returns a channel that receives an error if the server fails.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the metrics server, waiting for active connections
// to complete or until the context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
