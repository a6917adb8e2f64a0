package handlers

import (
	"net/http"

	"buildstate/internal/tracker"
	"buildstate/pkg/api"
)

// RecordFailure handles POST /builds/{id}/failures.
func (h *Handlers) RecordFailure(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req api.RecordFailureRequest
	if !h.decode(w, r, &req) {
		return
	}

	f, err := h.tracker.RecordFailure(r.Context(), c, id, tracker.FailureRequest{
		Checkpoint:   req.Checkpoint,
		Category:     req.Category,
		Message:      req.Message,
		Detail:       req.Detail,
		Component:    req.Component,
		RetryAttempt: req.RetryAttempt,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toFailureResponse(f))
}

// ListFailures handles GET /builds/{id}/failures?unresolved=true.
func (h *Handlers) ListFailures(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	failures, err := h.tracker.ListFailures(r.Context(), c, id, r.URL.Query().Get("unresolved") == "true")
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := make([]api.FailureResponse, 0, len(failures))
	for i := range failures {
		resp = append(resp, toFailureResponse(&failures[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ResolveFailure handles POST /failures/{id}/resolve.
func (h *Handlers) ResolveFailure(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req api.ResolveFailureRequest
	if !h.decode(w, r, &req) {
		return
	}

	f, err := h.tracker.ResolveFailure(r.Context(), c, id, req.Note)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toFailureResponse(f))
}
