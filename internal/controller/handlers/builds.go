package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"buildstate/internal/store"
	"buildstate/internal/tracker"
	"buildstate/pkg/api"
)

// StartBuild handles POST /builds.
func (h *Handlers) StartBuild(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req api.StartBuildRequest
	if !h.decode(w, r, &req) {
		return
	}

	b, err := h.tracker.StartBuild(r.Context(), c, tracker.StartBuildRequest{
		Owner:           req.Owner,
		Platform:        req.Platform,
		OSVersion:       req.OSVersion,
		ImageType:       req.ImageType,
		StartCheckpoint: req.StartCheckpoint,
		Description:     req.Description,
		Metadata:        req.Metadata,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toBuildResponse(b))
}

// GetBuild handles GET /builds/{id}.
func (h *Handlers) GetBuild(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	b, err := h.tracker.GetBuild(r.Context(), c, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toBuildResponse(b))
}

// GetBuildByNumber handles GET /build-numbers/{number}.
func (h *Handlers) GetBuildByNumber(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	b, err := h.tracker.GetBuildByNumber(r.Context(), c, r.PathValue("number"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toBuildResponse(b))
}

// ListBuilds handles GET /builds?status=running,failed&platform=aws&limit=20&offset=0.
func (h *Handlers) ListBuilds(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := store.BuildFilter{Platform: q.Get("platform")}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, store.BuildStatus(strings.TrimSpace(s)))
		}
	}

	var err error
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 1 {
			h.httpError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if filter.Offset, err = strconv.Atoi(raw); err != nil || filter.Offset < 0 {
			h.httpError(w, "Invalid offset", http.StatusBadRequest)
			return
		}
	}
	if filter.Limit == 0 || filter.Limit > tracker.MaxListLimit {
		filter.Limit = tracker.MaxListLimit
	}

	builds, err := h.tracker.ListBuilds(r.Context(), c, filter)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := api.ListBuildsResponse{
		Builds: make([]api.BuildResponse, 0, len(builds)),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for i := range builds {
		resp.Builds = append(resp.Builds, toBuildResponse(&builds[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// CancelBuild handles POST /builds/{id}/cancel.
func (h *Handlers) CancelBuild(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req api.CancelBuildRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	b, err := h.tracker.CancelBuild(r.Context(), c, id, req.Reason)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toBuildResponse(b))
}

// Summary handles GET /dashboard/summary.
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	counts, err := h.tracker.Summary(r.Context(), c)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := api.SummaryResponse{Counts: make(map[string]int64, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
		resp.Total += n
	}
	h.respondJson(w, http.StatusOK, resp)
}
