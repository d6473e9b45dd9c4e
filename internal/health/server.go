// Package health exposes the agent's operator-facing HTTP surface:
// liveness, readiness, Prometheus metrics, and debug snapshots of its two
// data products.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// ReadinessChecker reports whether the agent has completed at least one
// tick and is actively collecting data.
type ReadinessChecker interface {
	IsReady() bool
}

// HealthReporter supplies the live diagnostic struct served on /healthz.
type HealthReporter interface {
	Health() model.AgentHealth
}

// SnapshotProvider returns the latest cluster snapshot for debugging.
type SnapshotProvider interface {
	LatestSnapshot() interface{}
}

// JobsProvider returns the most recently discovered job list for debugging.
type JobsProvider interface {
	LatestJobs() []model.JobDescriptor
}

// Server exposes health, readiness, metrics, and debug endpoints over a
// gorilla/mux router.
type Server struct {
	httpServer *http.Server
	metrics    *observability.Metrics
	readiness  ReadinessChecker
	health     HealthReporter
	snapshot   SnapshotProvider
	jobs       JobsProvider
	listener   net.Listener
}

// NewServer creates a new health server on the given port. Pass port=0 to
// let the OS pick a free port (useful for tests). When enableDebug is
// true, pprof and the /debug/* endpoints are registered.
func NewServer(port int, metrics *observability.Metrics, readiness ReadinessChecker, health HealthReporter, snapshot SnapshotProvider, jobs JobsProvider, enableDebug bool) *Server {
	s := &Server{
		metrics:   metrics,
		readiness: readiness,
		health:    health,
		snapshot:  snapshot,
		jobs:      jobs,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)

		r.HandleFunc("/debug/snapshot", s.handleDebugSnapshot).Methods(http.MethodGet)
		r.HandleFunc("/debug/jobs", s.handleDebugJobs).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Start begins listening and serving HTTP in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	s.listener = ln
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			_ = err
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.health.Health())
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ready := s.readiness.IsReady()
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
}

func (s *Server) handleDebugSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot.LatestSnapshot()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, r, snap)
}

func (s *Server) handleDebugJobs(w http.ResponseWriter, r *http.Request) {
	jobList := s.jobs.LatestJobs()
	if jobList == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, r, jobList)
}

// writeJSON encodes v as the response body, streaming it through a zstd
// writer when the caller advertises support. Large /debug/snapshot bodies
// are the common case this serves; never buffer the full payload to
// compress it, matching the streaming-compression discipline used when
// shipping snapshots off-box.
func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if !acceptsZstd(r) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(v)
		return
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		slog.Warn("health: failed to start zstd encoder, falling back to plain JSON", "error", err)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(v)
		return
	}
	w.Header().Set("Content-Encoding", "zstd")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		slog.Warn("health: failed writing zstd-encoded response", "error", err)
	}
	_ = zw.Close()
}

func acceptsZstd(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(enc) == "zstd" {
			return true
		}
	}
	return false
}
