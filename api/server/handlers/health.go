package handlers

import (
	"context"
	"net/http"
	"time"
)

type HealthHandler struct {
	dbPing    func(ctx context.Context) error
	cachePing func(ctx context.Context) error
}

func NewHealthHandler(dbPing, cachePing func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{dbPing: dbPing, cachePing: cachePing}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Readiness checks the durable log and the cache with a short deadline.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "cache": "ok"}
	status := http.StatusOK
	if err := h.dbPing(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.cachePing(ctx); err != nil {
		checks["cache"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, checks, status)
}
