package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"buildstate/internal/auth"
	"buildstate/internal/store"
	"buildstate/pkg/api"
)

func TestCreatePrincipal(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(*mockStore)
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			body:           `{"name": "worker-1", "permission": "write", "rate_limit": 10}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: "api_key",
		},
		{
			name:           "Defaults To Write",
			body:           `{"name": "ci"}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: `"permission":"write"`,
		},
		{
			name:           "Invalid Request Body",
			body:           `{invalid}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Missing Name",
			body:           `{"permission": "read"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "name is required",
		},
		{
			name:           "Unknown Permission",
			body:           `{"name": "x", "permission": "root"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "permission",
		},
		{
			name:           "Negative Rate Limit",
			body:           `{"name": "x", "rate_limit": -1}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "rate limits",
		},
		{
			name: "Database Error",
			body: `{"name": "crash"}`,
			mockSetup: func(m *mockStore) {
				m.createPrincipalErr = errors.New("db down")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Failed to create",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ms := newTestHandlers(t)
			if tt.mockSetup != nil {
				tt.mockSetup(ms)
			}

			rr := call(h.CreatePrincipal, http.MethodPost, "/principals", tt.body, nil)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %d but want %d", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %s want substring %s", rr.Body.String(), tt.expectedInBody)
			}

			if tt.expectedStatus == http.StatusCreated {
				resp := decodeBody[api.CreatePrincipalResponse](t, rr)
				if !strings.HasPrefix(resp.ApiKey, auth.KeyPrefix) {
					t.Errorf("api_key must start with %q, got %s", auth.KeyPrefix, resp.ApiKey)
				}

				p, err := ms.GetPrincipalByAPIKeyHash(context.Background(), auth.HashKey(resp.ApiKey))
				if err != nil {
					t.Fatalf("stored principal not found by key hash: %v", err)
				}
				if p.ID.String() != resp.ID || string(p.Permission) != resp.Permission {
					t.Errorf("stored principal %+v does not match response %+v", p, resp)
				}
			}
		})
	}
}

func TestRegisterReference(t *testing.T) {
	h, ms := newTestHandlers(t)

	rr := call(h.RegisterReference, http.MethodPost, "/reference/platform", `{"name":"gcp"}`, admin, "kind", "platform")
	if rr.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if ok, _ := ms.ReferenceExists(context.Background(), store.ReferencePlatform, "gcp"); !ok {
		t.Error("expected gcp to be registered")
	}

	rr = call(h.RegisterReference, http.MethodPost, "/reference/platform", `{"name":"azure"}`, writer, "kind", "platform")
	if rr.Code != http.StatusForbidden {
		t.Errorf("writer: got %d, want 403", rr.Code)
	}

	rr = call(h.RegisterReference, http.MethodPost, "/reference/arch", `{"name":"arm64"}`, admin, "kind", "arch")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: got %d, want 400", rr.Code)
	}
}
