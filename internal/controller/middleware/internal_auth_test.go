package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAdminSecret_MissingHeader(t *testing.T) {
	secret := "admin-secret"
	middleware := RequireAdminSecret(secret)

	// Dummy handler that should NOT be called
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/principals", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if body := rr.Body.String(); body != "Missing authorization header\n" {
		t.Errorf("got body %q, want %q", body, "Missing authorization header\n")
	}
}

func TestRequireAdminSecret_InvalidHeaderFormat(t *testing.T) {
	secret := "admin-secret"
	middleware := RequireAdminSecret(secret)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	invalidHeaders := []string{
		"Basic admin-secret",
		"Bearer",
		"Token admin-secret",
		"admin-secret",
		"Bearer  admin-secret", // Double space
	}

	for _, h := range invalidHeaders {
		req := httptest.NewRequest(http.MethodGet, "/principals", nil)
		req.Header.Set("Authorization", h)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("header %q: got status %d, want %d", h, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireAdminSecret_InvalidToken(t *testing.T) {
	secret := "correct-secret"
	middleware := RequireAdminSecret(secret)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/principals", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdminSecret_Success(t *testing.T) {
	secret := "super-secret-system-key"
	middleware := RequireAdminSecret(secret)

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/principals", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if !called {
		t.Error("Next handler was not called")
	}
}

func TestRequireAdminSecret_DisabledWithoutSecret(t *testing.T) {
	handler := RequireAdminSecret("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/principals", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusForbidden)
	}
}
