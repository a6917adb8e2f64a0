package handlers

import (
	"net/http"
	"strings"
)

// PlanResume handles GET /builds/{id}/resume?target=N&require=a,b.
func (h *Handlers) PlanResume(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	target, err := queryCheckpoint(r, "target", id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	var required []string
	for _, k := range strings.Split(r.URL.Query().Get("require"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			required = append(required, k)
		}
	}

	plan, err := h.tracker.PlanResume(r.Context(), c, id, target, required)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toResumePlanResponse(plan))
}
