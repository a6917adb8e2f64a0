package handlers

import (
	"net/http"
	"strconv"

	"buildstate/internal/store"
	"buildstate/internal/tracker"
	"buildstate/pkg/api"
)

// RegisterArtifact handles POST /builds/{id}/artifacts.
func (h *Handlers) RegisterArtifact(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req api.RegisterArtifactRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.tracker.RegisterArtifact(r.Context(), c, id, tracker.ArtifactRequest{
		Checkpoint:  req.Checkpoint,
		Name:        req.Name,
		StorageType: req.StorageType,
		StoragePath: req.StoragePath,
		SizeBytes:   req.SizeBytes,
		Checksum:    req.Checksum,
		Resumable:   req.Resumable,
		Final:       req.Final,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toArtifactResponse(a))
}

// ListArtifacts handles GET /builds/{id}/artifacts?checkpoint=N&resumable=true&final=false.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var filter store.ArtifactFilter
	cp, err := queryCheckpoint(r, "checkpoint", id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	filter.Checkpoint = cp
	for name, dst := range map[string]**bool{"resumable": &filter.Resumable, "final": &filter.Final} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.httpError(w, "Invalid "+name, http.StatusBadRequest)
			return
		}
		*dst = &v
	}

	artifacts, err := h.tracker.ListArtifacts(r.Context(), c, id, filter)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := make([]api.ArtifactResponse, 0, len(artifacts))
	for i := range artifacts {
		resp = append(resp, toArtifactResponse(&artifacts[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetLatestArtifact handles GET /builds/{id}/artifacts/latest?checkpoint=N.
func (h *Handlers) GetLatestArtifact(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	cp, err := queryCheckpoint(r, "checkpoint", id)
	if err == nil && cp == nil {
		err = &tracker.Error{Kind: tracker.KindInvalidCheckpoint, BuildID: id, Message: "checkpoint query parameter is required"}
	}
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	a, err := h.tracker.GetLatestArtifact(r.Context(), c, id, *cp)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toArtifactResponse(a))
}
