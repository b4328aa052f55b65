package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ServiceName is reported by the liveness check.
const ServiceName = "clearinghouse-app"

// Pinger checks relational store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketChecker checks object store bucket reachability.
type BucketChecker interface {
	HeadBucket(ctx context.Context) error
}

type healthBody struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthHandler serves /health and /ready. Checks only read; they share no
// state with the ingestion path.
type HealthHandler struct {
	db      Pinger
	bucket  BucketChecker
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates health handlers. timeout bounds each check; zero
// means 5 seconds.
func NewHealthHandler(db Pinger, bucket BucketChecker, timeout time.Duration, logger *slog.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		db:      db,
		bucket:  bucket,
		timeout: timeout,
		logger:  logger.With("component", "health"),
	}
}

// Routes returns a mux with the health endpoints.
func (h *HealthHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(h.Health))
	mux.HandleFunc("/ready", getOnly(h.Ready))
	mux.HandleFunc("/", WriteNotFound)
	return mux
}

// Health reports liveness: the process is up and the database answers.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "unhealthy", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "healthy", Service: ServiceName})
}

// Ready reports readiness: the database answers and the bucket is reachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	err := h.db.Ping(ctx)
	if err == nil {
		err = h.bucket.HeadBucket(ctx)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.logger.Warn("readiness check timed out", "timeout", h.timeout)
		} else {
			h.logger.Error("readiness check failed", "error", err)
		}
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "not ready", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ready"})
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			WriteMethodNotAllowed(w, r, "GET, HEAD")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
