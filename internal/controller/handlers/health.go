package handlers

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

// readiness is the body of /readyz.
type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Healthz reports that the process is serving.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz reports whether the build store answers within readinessTimeout.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "readiness check failed", "check", "store", "error", err)
		h.respondJson(w, http.StatusServiceUnavailable, readiness{
			Status: "unavailable",
			Checks: map[string]string{"store": "build store unavailable"},
		})
		return
	}
	h.respondJson(w, http.StatusOK, readiness{
		Status: "ready",
		Checks: map[string]string{"store": "ok"},
	})
}
