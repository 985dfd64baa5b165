// Package api provides the local status HTTP surface of the reflection judge.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
	"github.com/ashureev/reflection-judge/internal/reflection"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxListLimit = 500

// StateSource exposes the controller's guard state.
type StateSource interface {
	Snapshot() reflection.StateSnapshot
}

// RecordLister reads audit records.
type RecordLister interface {
	ListRecords(ctx context.Context, sessionID string, limit int) ([]*domain.ReflectionRecord, error)
}

// Pinger checks a dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves reflection status endpoints.
type Handler struct {
	state    StateSource
	records  RecordLister
	db       Pinger
	watchers http.Handler
	gatherer prometheus.Gatherer
	started  time.Time
}

// Options wires optional Handler dependencies.
type Options struct {
	Records  RecordLister
	DB       Pinger
	Watchers http.Handler
	Gatherer prometheus.Gatherer
}

// NewHandler creates a status handler.
func NewHandler(state StateSource, opts Options) *Handler {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		state:    state,
		records:  opts.Records,
		db:       opts.DB,
		watchers: opts.Watchers,
		gatherer: opts.Gatherer,
		started:  time.Now(),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers status routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
	r.Route("/api/reflection", func(r chi.Router) {
		r.Get("/state", h.HandleState)
		r.Get("/records", h.HandleRecords)
	})
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	if h.watchers != nil {
		r.Get("/ws/reflections", h.watchers.ServeHTTP)
	}
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}
	JSON(w, http.StatusOK, resp)
}

// HandleState handles GET /api/reflection/state.
func (h *Handler) HandleState(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.state.Snapshot())
}

// HandleRecords handles GET /api/reflection/records?session_id=&limit=.
func (h *Handler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		Error(w, http.StatusNotFound, "audit store disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := h.records.ListRecords(r.Context(), r.URL.Query().Get("session_id"), limit)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []*domain.ReflectionRecord{}
	}
	JSON(w, http.StatusOK, map[string]any{"records": records})
}
