package handlers

import (
	"net/http"
	"strings"
	"testing"

	"buildstate/pkg/api"

	"github.com/google/uuid"
)

func TestStartBuild(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		principal      bool
		readOnly       bool
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "Success",
			body:           `{"platform":"aws","os_version":"rhel9","image_type":"base","metadata":{"region":"us-east-1"}}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Unknown Platform",
			body:           `{"platform":"gcp","os_version":"rhel9","image_type":"base"}`,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   "invalid_reference",
		},
		{
			name:           "Start Checkpoint Out Of Range",
			body:           `{"platform":"aws","os_version":"rhel9","image_type":"base","start_checkpoint":101}`,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "invalid_checkpoint",
		},
		{
			name:           "Read Only Caller",
			body:           `{"platform":"aws","os_version":"rhel9","image_type":"base"}`,
			readOnly:       true,
			expectedStatus: http.StatusForbidden,
			expectedKind:   "permission_denied",
		},
		{
			name:           "Invalid Request Body",
			body:           `{"platform":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandlers(t)
			p := writer
			if tt.readOnly {
				p = reader
			}

			rr := call(h.StartBuild, http.MethodPost, "/builds", tt.body, p)
			if rr.Code != tt.expectedStatus {
				t.Fatalf("got %d want %d: %s", rr.Code, tt.expectedStatus, rr.Body.String())
			}

			if tt.expectedStatus == http.StatusCreated {
				b := decodeBody[api.BuildResponse](t, rr)
				if b.Status != "running" || b.Owner != "worker-1" || b.Version != 1 {
					t.Errorf("unexpected build %+v", b)
				}
				if !strings.HasPrefix(b.BuildNumber, "rhel9-base-aws-") {
					t.Errorf("unexpected build number %s", b.BuildNumber)
				}
				if b.Metadata["region"] != "us-east-1" {
					t.Errorf("metadata not kept: %v", b.Metadata)
				}
				return
			}
			if tt.expectedKind != "" {
				if resp := decodeBody[api.ErrorResponse](t, rr); resp.Kind != tt.expectedKind {
					t.Errorf("got kind %q, want %q", resp.Kind, tt.expectedKind)
				}
			}
		})
	}
}

func TestGetBuild(t *testing.T) {
	h, _ := newTestHandlers(t)
	b := startBuild(t, h)

	rr := call(h.GetBuild, http.MethodGet, "/builds/"+b.ID, "", reader, "id", b.ID)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if got := decodeBody[api.BuildResponse](t, rr); got.ID != b.ID {
		t.Errorf("got build %s", got.ID)
	}

	rr = call(h.GetBuildByNumber, http.MethodGet, "/build-numbers/"+b.BuildNumber, "", reader, "number", b.BuildNumber)
	if rr.Code != http.StatusOK {
		t.Fatalf("by number: got %d", rr.Code)
	}

	missing := uuid.NewString()
	rr = call(h.GetBuild, http.MethodGet, "/builds/"+missing, "", reader, "id", missing)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown build: got %d", rr.Code)
	}
	if resp := decodeBody[api.ErrorResponse](t, rr); resp.Kind != "unknown_build" || resp.BuildID != missing {
		t.Errorf("unexpected error body %+v", resp)
	}

	rr = call(h.GetBuild, http.MethodGet, "/builds/not-a-uuid", "", reader, "id", "not-a-uuid")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid id: got %d", rr.Code)
	}
}

func TestListBuilds(t *testing.T) {
	h, _ := newTestHandlers(t)
	startBuild(t, h)
	second := startBuild(t, h)
	transition(t, h, second.ID, `{"checkpoint":10,"status":"failed"}`, http.StatusCreated)

	tests := []struct {
		query          string
		expectedStatus int
		expectedCount  int
	}{
		{"", http.StatusOK, 2},
		{"?status=running", http.StatusOK, 1},
		{"?status=running,failed", http.StatusOK, 2},
		{"?platform=gcp", http.StatusOK, 0},
		{"?limit=1", http.StatusOK, 1},
		{"?status=bogus", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
		{"?offset=-1", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := call(h.ListBuilds, http.MethodGet, "/builds"+tt.query, "", reader)
			if rr.Code != tt.expectedStatus {
				t.Fatalf("got %d want %d: %s", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}
			if resp := decodeBody[api.ListBuildsResponse](t, rr); len(resp.Builds) != tt.expectedCount {
				t.Errorf("got %d builds, want %d", len(resp.Builds), tt.expectedCount)
			}
		})
	}
}

func TestCancelBuild(t *testing.T) {
	h, _ := newTestHandlers(t)
	b := startBuild(t, h)

	rr := call(h.CancelBuild, http.MethodPost, "/builds/"+b.ID+"/cancel", `{"reason":"superseded"}`, writer, "id", b.ID)
	if rr.Code != http.StatusForbidden {
		t.Errorf("writer: got %d, want 403", rr.Code)
	}

	rr = call(h.CancelBuild, http.MethodPost, "/builds/"+b.ID+"/cancel", `{"reason":"superseded"}`, admin, "id", b.ID)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody[api.BuildResponse](t, rr); got.Status != "cancelled" || got.EndTime == nil {
		t.Errorf("unexpected build %+v", got)
	}

	// No further transitions on a cancelled build.
	rr = transition(t, h, b.ID, `{"checkpoint":10,"status":"started"}`, http.StatusConflict)
	if resp := decodeBody[api.ErrorResponse](t, rr); resp.Kind != "invalid_transition" {
		t.Errorf("got kind %q", resp.Kind)
	}
}

func TestSummary(t *testing.T) {
	h, _ := newTestHandlers(t)
	startBuild(t, h)
	b := startBuild(t, h)
	transition(t, h, b.ID, `{"checkpoint":100,"status":"completed"}`, http.StatusCreated)

	rr := call(h.Summary, http.MethodGet, "/dashboard/summary", "", reader)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	resp := decodeBody[api.SummaryResponse](t, rr)
	if resp.Total != 2 || resp.Counts["running"] != 1 || resp.Counts["completed"] != 1 {
		t.Errorf("unexpected summary %+v", resp)
	}
}
