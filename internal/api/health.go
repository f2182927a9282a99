package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db          Pinger
	generator   Pinger // optional
	queueDepth  func() int
	connections func() int
	timeout     time.Duration
}

// NewHealthHandler creates a new health handler. generator, queueDepth and
// connections may be nil.
func NewHealthHandler(db, generator Pinger, queueDepth, connections func() int) *HealthHandler {
	return &HealthHandler{
		db:          db,
		generator:   generator,
		queueDepth:  queueDepth,
		connections: connections,
		timeout:     5 * time.Second,
	}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err, "dependency", "database")
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.generator != nil {
		if err := h.generator.Ping(ctx); err != nil {
			slog.Warn("Health check failed", "error", err, "dependency", "generator")
			status["status"] = "degraded"
			checks["generator"] = "unreachable"
		} else {
			checks["generator"] = "ok"
		}
	}

	if h.queueDepth != nil {
		status["persist_queue_depth"] = h.queueDepth()
	}
	if h.connections != nil {
		status["websocket_connections"] = h.connections()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
