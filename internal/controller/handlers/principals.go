package handlers

import (
	"net/http"
	"strings"
	"time"

	"buildstate/internal/auth"
	"buildstate/internal/store"
	"buildstate/pkg/api"

	"github.com/google/uuid"
)

// CreatePrincipal handles POST /principals (admin secret only).
// It generates a new API Key, hashes it for storage, and returns the raw key ONCE.
func (h *Handlers) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreatePrincipalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.httpError(w, "name is required", http.StatusBadRequest)
		return
	}

	permission := store.Permission(strings.ToLower(req.Permission))
	if permission == "" {
		permission = store.PermissionWrite
	}
	if !permission.Valid() {
		h.httpError(w, "permission must be read, write or admin", http.StatusBadRequest)
		return
	}
	if req.RateLimit < 0 || req.RateLimitBurst < 0 {
		h.httpError(w, "rate limits must not be negative", http.StatusBadRequest)
		return
	}

	apiKey, err := auth.GenerateKey()
	if err != nil {
		h.httpError(w, "Entropy failure", http.StatusInternalServerError)
		return
	}

	principal := &store.Principal{
		ID:             uuid.New(),
		Name:           req.Name,
		Permission:     permission,
		RateLimit:      req.RateLimit,
		RateLimitBurst: req.RateLimitBurst,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.CreatePrincipal(ctx, principal, auth.HashKey(apiKey)); err != nil {
		h.logger.ErrorContext(ctx, "failed to create principal", "name", req.Name, "error", err)
		h.httpError(w, "Failed to create principal", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "principal created", "principal_id", principal.ID, "name", principal.Name, "permission", principal.Permission)
	h.respondJson(w, http.StatusCreated, api.CreatePrincipalResponse{
		ID:         principal.ID.String(),
		Name:       principal.Name,
		Permission: string(principal.Permission),
		ApiKey:     apiKey,
	})
}

// RegisterReference handles POST /reference/{kind}.
func (h *Handlers) RegisterReference(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req api.RegisterReferenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	kind := store.ReferenceKind(r.PathValue("kind"))
	if err := h.tracker.RegisterReference(r.Context(), c, kind, req.Name); err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, map[string]string{"kind": string(kind), "name": req.Name})
}
