package handlers

import (
	"net/http"

	"buildstate/internal/store"
	"buildstate/internal/tracker"
	"buildstate/pkg/api"
)

// Transition handles POST /builds/{id}/transitions.
func (h *Handlers) Transition(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req api.TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Checkpoint == nil {
		h.httpError(w, "checkpoint is required", http.StatusBadRequest)
		return
	}

	entry, err := h.tracker.Transition(r.Context(), c, id, tracker.TransitionRequest{
		Checkpoint: *req.Checkpoint,
		Status:     store.EntryStatus(req.Status),
		Message:    req.Message,
		Metadata:   req.Metadata,
		Terminal:   req.Terminal,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toLedgerEntryResponse(entry))
}

// ListLedger handles GET /builds/{id}/transitions.
func (h *Handlers) ListLedger(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.tracker.ListLedger(r.Context(), c, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := make([]api.LedgerEntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, toLedgerEntryResponse(&entries[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}
