// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"buildstate/internal/auth"
	"buildstate/internal/store"
	"buildstate/internal/tracker"
	"buildstate/pkg/api"
)

// principalKey is the context key for the authenticated principal.
type principalKey struct{}

// AuthMiddleware resolves the Bearer API key to a principal and stores it
// in the request context.
func AuthMiddleware(s store.PrincipalStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				unauthorized(w, "Invalid authorization header")
				return
			}

			principal, err := s.GetPrincipalByAPIKeyHash(r.Context(), auth.HashKey(parts[1]))
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusInternalServerError, "Failed to authenticate")
				return
			}
			if principal == nil {
				unauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// NewContextWithPrincipal returns ctx carrying p.
func NewContextWithPrincipal(ctx context.Context, p *store.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (*store.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*store.Principal)
	return p, ok && p != nil
}

// CallerFromContext converts the authenticated principal into a tracker caller.
func CallerFromContext(ctx context.Context) (tracker.Caller, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return tracker.Caller{}, false
	}
	return tracker.Caller{Identity: p.Name, Level: p.Permission}, true
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: msg,
		Code:  strconv.Itoa(code),
	})
}
