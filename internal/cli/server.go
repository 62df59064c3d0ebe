package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iuriikogan/magnet-loop/internal/observability"
	"github.com/iuriikogan/magnet-loop/internal/orchestrator"
)

// runStatus is the live view of a run served on /status.
type runStatus struct {
	mu          sync.Mutex
	runID       string
	model       string
	state       string
	transitions int
	startedAt   time.Time
	updatedAt   time.Time
}

func newRunStatus(runID, model string) *runStatus {
	now := time.Now()
	return &runStatus{
		runID:     runID,
		model:     model,
		state:     orchestrator.StateInit.String(),
		startedAt: now,
		updatedAt: now,
	}
}

func (s *runStatus) observe(_, to orchestrator.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = to.String()
	s.transitions++
	s.updatedAt = time.Now()
}

func (s *runStatus) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"run_id":      s.runID,
		"model":       s.model,
		"state":       s.state,
		"transitions": s.transitions,
		"started_at":  s.startedAt.Format(time.RFC3339),
		"updated_at":  s.updatedAt.Format(time.RFC3339),
	}
}

func newStatusHandler(status *runStatus, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/status", instrument(logger, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		respondJSON(w, http.StatusOK, status.snapshot())
	}))
	mux.Handle("/healthz", instrument(logger, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	return mux
}

// serveStatus starts the listener in the background and returns a function
// that shuts it down.
func serveStatus(addr string, status *runStatus, logger *slog.Logger) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           newStatusHandler(status, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Metrics server forced to shutdown", "error", err)
		}
	}
}

func instrument(logger *slog.Logger, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			duration := time.Since(start).Seconds()
			observability.HttpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, http.StatusText(rw.status)).Inc()
			observability.HttpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			logger.Debug("Request handled", "method", r.Method, "path", r.URL.Path, "status", rw.status, "duration", duration)
		}()
		next(rw, r)
	})
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// Custom ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
