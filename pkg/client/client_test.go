package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"buildstate/internal/controller"
	"buildstate/internal/store/memory"
	"buildstate/internal/tracker"
	"buildstate/pkg/api"
)

const adminSecret = "admin-secret"

// newTestController serves the real API over an in-memory store and returns
// a client holding an admin key, with aws/rhel9/base registered.
func newTestController(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := memory.New()
	svc := tracker.New(mem, tracker.Options{Logger: quiet})
	srv := httptest.NewServer(controller.NewHandler(mem, svc, controller.Options{AdminSecret: adminSecret, Logger: quiet}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	bootstrap := New(srv.URL, "")
	p, err := bootstrap.CreatePrincipal(ctx, adminSecret, api.CreatePrincipalRequest{Name: "ops", Permission: "admin"})
	if err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	c := New(srv.URL+"/", p.ApiKey)
	for kind, name := range map[string]string{"platform": "aws", "os_version": "rhel9", "image_type": "base"} {
		if err := c.RegisterReference(ctx, kind, name); err != nil {
			t.Fatalf("RegisterReference(%s) failed: %v", kind, err)
		}
	}
	return srv, c
}

func intPtr(i int) *int { return &i }

func TestClient_BuildLifecycle(t *testing.T) {
	_, c := newTestController(t)
	ctx := context.Background()

	build, err := c.StartBuild(ctx, api.StartBuildRequest{Platform: "aws", OSVersion: "rhel9", ImageType: "base"})
	if err != nil {
		t.Fatalf("StartBuild failed: %v", err)
	}
	if build.Status != "pending" || build.BuildNumber == "" {
		t.Errorf("unexpected build %+v", build)
	}

	for _, status := range []string{"started", "completed"} {
		if _, err := c.Transition(ctx, build.ID, api.TransitionRequest{Checkpoint: intPtr(10), Status: status}); err != nil {
			t.Fatalf("Transition(%s) failed: %v", status, err)
		}
	}

	got, err := c.GetBuild(ctx, build.ID)
	if err != nil {
		t.Fatalf("GetBuild failed: %v", err)
	}
	if got.CurrentCheckpoint != 10 || got.Status != "running" {
		t.Errorf("expected running at 10, got %s at %d", got.Status, got.CurrentCheckpoint)
	}

	byNumber, err := c.GetBuildByNumber(ctx, build.BuildNumber)
	if err != nil || byNumber.ID != build.ID {
		t.Errorf("GetBuildByNumber returned %v, %v", byNumber, err)
	}

	ledger, err := c.ListLedger(ctx, build.ID)
	if err != nil {
		t.Fatalf("ListLedger failed: %v", err)
	}
	if len(ledger) != 2 {
		t.Errorf("expected 2 ledger entries, got %d", len(ledger))
	}

	list, err := c.ListBuilds(ctx, ListBuildsOptions{Statuses: []string{"running"}, Platform: "aws", Limit: 5})
	if err != nil {
		t.Fatalf("ListBuilds failed: %v", err)
	}
	if len(list.Builds) != 1 || list.Limit != 5 {
		t.Errorf("unexpected list %+v", list)
	}

	summary, err := c.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Total != 1 || summary.Counts["running"] != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	cancelled, err := c.CancelBuild(ctx, build.ID, "superseded")
	if err != nil {
		t.Fatalf("CancelBuild failed: %v", err)
	}
	if cancelled.Status != "cancelled" {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestClient_ResumeContext(t *testing.T) {
	_, c := newTestController(t)
	ctx := context.Background()

	build, err := c.StartBuild(ctx, api.StartBuildRequest{Platform: "aws", OSVersion: "rhel9", ImageType: "base"})
	if err != nil {
		t.Fatal(err)
	}
	c.Transition(ctx, build.ID, api.TransitionRequest{Checkpoint: intPtr(30), Status: "completed"})

	size := int64(4)
	if _, err := c.RegisterArtifact(ctx, build.ID, api.RegisterArtifactRequest{
		Checkpoint:  30,
		StorageType: "file",
		StoragePath: "builds/30/image.qcow2",
		SizeBytes:   &size,
		Resumable:   true,
	}); err != nil {
		t.Fatalf("RegisterArtifact failed: %v", err)
	}

	if _, err := c.SetVariable(ctx, build.ID, "AMI_ID", api.SetVariableRequest{Value: "ami-123", RequiredForResume: true}); err != nil {
		t.Fatalf("SetVariable failed: %v", err)
	}
	masked, err := c.SetVariable(ctx, build.ID, "TOKEN", api.SetVariableRequest{Value: "hunter2", Sensitive: true})
	if err != nil {
		t.Fatalf("SetVariable failed: %v", err)
	}
	if masked.Value != tracker.MaskedValue {
		t.Errorf("expected masked value, got %q", masked.Value)
	}

	raw, err := c.GetVariable(ctx, build.ID, "TOKEN")
	if err != nil || raw.Value != "hunter2" {
		t.Errorf("GetVariable returned %v, %v", raw, err)
	}

	required, err := c.ListVariables(ctx, build.ID, true)
	if err != nil || len(required) != 1 {
		t.Errorf("ListVariables(required) returned %v, %v", required, err)
	}

	resumable := true
	artifacts, err := c.ListArtifacts(ctx, build.ID, ListArtifactsOptions{Checkpoint: intPtr(30), Resumable: &resumable})
	if err != nil || len(artifacts) != 1 {
		t.Errorf("ListArtifacts returned %v, %v", artifacts, err)
	}

	latest, err := c.GetLatestArtifact(ctx, build.ID, 30)
	if err != nil || latest.StoragePath != "builds/30/image.qcow2" {
		t.Errorf("GetLatestArtifact returned %v, %v", latest, err)
	}

	plan, err := c.PlanResume(ctx, build.ID, nil, nil)
	if err != nil {
		t.Fatalf("PlanResume failed: %v", err)
	}
	if plan.ResumeCheckpoint != 30 || plan.Artifact == nil || len(plan.RequiredVariables) != 1 {
		t.Errorf("unexpected plan %+v", plan)
	}

	_, err = c.PlanResume(ctx, build.ID, nil, []string{"SUBNET_ID"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Kind != "incomplete_resume_context" || apiErr.StatusCode != http.StatusConflict {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if len(apiErr.Missing) != 1 || apiErr.Missing[0] != "SUBNET_ID" {
		t.Errorf("expected missing SUBNET_ID, got %v", apiErr.Missing)
	}
}

func TestClient_Failures(t *testing.T) {
	_, c := newTestController(t)
	ctx := context.Background()

	build, _ := c.StartBuild(ctx, api.StartBuildRequest{Platform: "aws", OSVersion: "rhel9", ImageType: "base"})
	c.Transition(ctx, build.ID, api.TransitionRequest{Checkpoint: intPtr(40), Status: "failed"})

	f, err := c.RecordFailure(ctx, build.ID, api.RecordFailureRequest{Checkpoint: 40, Category: "stage", Message: "exit 2"})
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	open, err := c.ListFailures(ctx, build.ID, true)
	if err != nil || len(open) != 1 {
		t.Fatalf("ListFailures returned %v, %v", open, err)
	}

	resolved, err := c.ResolveFailure(ctx, f.ID, "retried")
	if err != nil {
		t.Fatalf("ResolveFailure failed: %v", err)
	}
	if !resolved.Resolved {
		t.Error("expected failure to be resolved")
	}

	open, _ = c.ListFailures(ctx, build.ID, true)
	if len(open) != 0 {
		t.Errorf("expected no unresolved failures, got %d", len(open))
	}
}

func TestClient_Errors(t *testing.T) {
	srv, c := newTestController(t)
	ctx := context.Background()

	_, err := c.GetBuild(ctx, "00000000-0000-0000-0000-000000000000")
	if !IsKind(err, "unknown_build") {
		t.Errorf("expected unknown_build, got %v", err)
	}

	_, err = New(srv.URL, "wrong").CreatePrincipal(ctx, "nope", api.CreatePrincipalRequest{Name: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Invalid authorization token" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if apiErr.Error() != "API error (401): Invalid authorization token" {
		t.Errorf("unexpected message %q", apiErr.Error())
	}
}

func TestClient_QueryEncoding(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"build":{},"resume_checkpoint":20,"required_variables":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "bs_token")
	plan, err := c.PlanResume(context.Background(), "b1", intPtr(50), []string{"A", "B"})
	if err != nil {
		t.Fatalf("PlanResume failed: %v", err)
	}
	if plan.ResumeCheckpoint != 20 {
		t.Errorf("expected resume checkpoint 20, got %d", plan.ResumeCheckpoint)
	}
	if gotPath != "/builds/b1/resume" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotQuery != "require=A%2CB&target=50" {
		t.Errorf("unexpected query %s", gotQuery)
	}
	if gotAuth != "Bearer bs_token" {
		t.Errorf("unexpected auth header %s", gotAuth)
	}
}
