// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"buildstate/internal/controller/middleware"
	"buildstate/internal/store"
	"buildstate/internal/tracker"
	"buildstate/pkg/api"

	"github.com/google/uuid"
)

// StoreFactory is the part of the store the handlers use directly.
// Everything else goes through the tracker.
type StoreFactory interface {
	Ping(ctx context.Context) error
	store.PrincipalStore
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store   StoreFactory
	tracker *tracker.Service
	logger  *slog.Logger
}

// New creates a new Handlers instance.
func New(s StoreFactory, svc *tracker.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: s, tracker: svc, logger: logger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// caller writes a 401 and returns false when the request is unauthenticated.
func (h *Handlers) caller(w http.ResponseWriter, r *http.Request) (tracker.Caller, bool) {
	c, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
	}
	return c, ok
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.httpError(w, "Invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// queryCheckpoint reads an optional integer checkpoint from the query. A
// malformed value is an invalid_checkpoint error for buildID.
func queryCheckpoint(r *http.Request, name string, buildID uuid.UUID) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &tracker.Error{
			Kind:    tracker.KindInvalidCheckpoint,
			BuildID: buildID,
			Message: fmt.Sprintf("%s must be an integer, got %q", name, raw),
		}
	}
	return &n, nil
}

var kindStatus = map[tracker.Kind]int{
	tracker.KindInvalidArgument:          http.StatusBadRequest,
	tracker.KindInvalidCheckpoint:        http.StatusBadRequest,
	tracker.KindPermissionDenied:         http.StatusForbidden,
	tracker.KindUnknownBuild:             http.StatusNotFound,
	tracker.KindNotFound:                 http.StatusNotFound,
	tracker.KindInvalidTransition:        http.StatusConflict,
	tracker.KindNoResumePoint:            http.StatusConflict,
	tracker.KindIncompleteResumeContext:  http.StatusConflict,
	tracker.KindConcurrentUpdateConflict: http.StatusConflict,
	tracker.KindInvalidReference:         http.StatusUnprocessableEntity,
	tracker.KindChecksumMismatch:         http.StatusUnprocessableEntity,
}

// serviceError maps a tracker error onto the HTTP error body.
// Internal errors are logged and not echoed to the client.
func (h *Handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := tracker.KindOf(err)
	code, ok := kindStatus[kind]
	if !ok {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.respondJson(w, http.StatusInternalServerError, api.ErrorResponse{
			Error: "Internal server error",
			Code:  strconv.Itoa(http.StatusInternalServerError),
			Kind:  string(tracker.KindInternal),
		})
		return
	}

	resp := api.ErrorResponse{
		Error: err.Error(),
		Code:  strconv.Itoa(code),
		Kind:  string(kind),
	}
	var e *tracker.Error
	if errors.As(err, &e) {
		if e.BuildID != uuid.Nil {
			resp.BuildID = e.BuildID.String()
		}
		resp.Checkpoint = e.Checkpoint
		resp.Missing = e.Missing
	}
	h.respondJson(w, code, resp)
}
