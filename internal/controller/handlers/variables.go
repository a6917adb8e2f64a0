package handlers

import (
	"net/http"

	"buildstate/internal/tracker"
	"buildstate/pkg/api"
)

// SetVariable handles PUT /builds/{id}/variables/{key}.
func (h *Handlers) SetVariable(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req api.SetVariableRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.tracker.SetVariable(r.Context(), c, id, tracker.VariableRequest{
		Key:               r.PathValue("key"),
		Value:             req.Value,
		Type:              req.Type,
		RequiredForResume: req.RequiredForResume,
		Sensitive:         req.Sensitive,
		Checkpoint:        req.Checkpoint,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := toVariableResponse(v)
	if v.Sensitive && v.Value != "" {
		resp.Value = tracker.MaskedValue
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetVariable handles GET /builds/{id}/variables/{key}. It returns the raw value.
func (h *Handlers) GetVariable(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	v, err := h.tracker.GetVariable(r.Context(), c, id, r.PathValue("key"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toVariableResponse(v))
}

// ListVariables handles GET /builds/{id}/variables?required=true.
func (h *Handlers) ListVariables(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	vars, err := h.tracker.ListVariables(r.Context(), c, id, r.URL.Query().Get("required") == "true")
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := make([]api.VariableResponse, 0, len(vars))
	for i := range vars {
		resp = append(resp, toVariableResponse(&vars[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}
