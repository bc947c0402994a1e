package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/opsdesk/patternd/internal/api"
	"github.com/opsdesk/patternd/internal/metrics"
)

// Version is reported by /health and set at build time
var Version = "dev"

// Pinger checks that a dependency is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HTTPHandler serves health and metrics endpoints
type HTTPHandler struct {
	db Pinger
}

// NewHTTPHandler creates a new HTTP handler. db may be nil.
func NewHTTPHandler(db Pinger) *HTTPHandler {
	return &HTTPHandler{db: db}
}

// SetupRoutes configures the unauthenticated operational routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

// handleHealth reports liveness and database reachability
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status":   "ok",
		"version":  Version,
		"database": "ok",
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			log.Printf("HTTPHandler: Database health check failed: %v", err)
			response["status"] = "degraded"
			response["database"] = "unreachable"
			api.RespondJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	api.RespondJSON(w, http.StatusOK, response)
}
