package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// Runner starts pipeline runs on behalf of an external scheduler.
type Runner interface {
	sharedobs.ReadinessChecker
	// Trigger starts a run in the background and returns its id, or
	// domain.ErrRunInProgress when a run is already active.
	Trigger(ctx context.Context) (string, error)
}

// RunLog reads the persisted run log.
type RunLog interface {
	LastRun(ctx context.Context) (domain.RunReport, bool, error)
}

// Server exposes health, readiness, metrics, and run trigger endpoints.
type Server struct {
	httpServer *http.Server
	runCtx     context.Context
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, POST
// /runs and GET /runs/latest routes. Triggered runs inherit runCtx instead of
// the request context, so they outlive the request and stop on shutdown.
func NewServer(runCtx context.Context, addr string, runner Runner, runs RunLog, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		runCtx: runCtx,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(runner))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /runs", s.handleTrigger(runner))
	mux.HandleFunc("GET /runs/latest", s.handleLatest(runs))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleTrigger(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := runner.Trigger(s.runCtx)
		switch {
		case errors.Is(err, domain.ErrRunInProgress):
			sharedobs.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case err != nil:
			s.logger.Error("run trigger failed", "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			s.logger.Info("run triggered", "run_id", runID)
			sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "started"})
		}
	}
}

func (s *Server) handleLatest(runs RunLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ok, err := runs.LastRun(r.Context())
		switch {
		case err != nil:
			s.logger.Error("read run log failed", "error", err)
			sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		case !ok:
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no runs recorded"})
		default:
			sharedobs.WriteJSON(w, http.StatusOK, report)
		}
	}
}
