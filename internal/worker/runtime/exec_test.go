package runtime

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewExecRuntime_DefaultWorkDir(t *testing.T) {
	rt := NewExecRuntime("")

	expectedPrefix := filepath.Join(os.TempDir(), "buildstate", "runner")
	if rt.WorkDir != expectedPrefix {
		t.Errorf("expected WorkDir to be %s, got %s", expectedPrefix, rt.WorkDir)
	}
}

func TestNewExecRuntime_CustomWorkDir(t *testing.T) {
	customDir := "/custom/path"
	rt := NewExecRuntime(customDir)

	if rt.WorkDir != customDir {
		t.Errorf("expected WorkDir to be %s, got %s", customDir, rt.WorkDir)
	}
}

func TestStart_Success(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Name:    "build-1-cp-10",
		Command: []string{"echo", "hello"},
	})

	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if handle == nil {
		t.Fatal("expected handle to be non-nil")
	}

	// Clean up
	result, _ := handle.Wait(ctx)
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestStart_EmptyCommand(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	_, err := rt.Start(ctx, StartOptions{
		Command: []string{},
	})

	if err == nil {
		t.Fatal("expected error for empty command")
	}
	if !strings.Contains(err.Error(), "command is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStart_CommandNotFound(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	_, err := rt.Start(ctx, StartOptions{
		Command: []string{"nonexistent-binary-xyz"},
	})

	if err == nil {
		t.Fatal("expected error for non-existent command")
	}
}

func TestStart_CreatesWorkDir(t *testing.T) {
	baseDir := t.TempDir()
	rt := NewExecRuntime(baseDir)
	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Name:    "Build_42 CP-30",
		Command: []string{"echo", "test"},
	})

	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Verify work directory was created
	expectedDir := filepath.Join(baseDir, "build-42-cp-30")
	if _, err := os.Stat(expectedDir); os.IsNotExist(err) {
		t.Errorf("work directory was not created: %s", expectedDir)
	}

	handle.Wait(ctx)

	data, err := os.ReadFile(filepath.Join(expectedDir, LogFileName))
	if err != nil || strings.TrimSpace(string(data)) != "test" {
		t.Errorf("expected stage log with output, got %q (%v)", data, err)
	}
}

func TestWait_ExitCodeZero(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"true"}, // exits with 0
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if result.Error != nil {
		t.Errorf("expected no error, got %v", result.Error)
	}
}

func TestWait_ExitCodeNonZero(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"false"}, // exits with 1
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	// Create a context that will time out quickly
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"sleep", "10"}, // Long-running command
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("expected exit code -1 on timeout, got %d", result.ExitCode)
	}
}

func TestStop_GracefulTermination(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"sleep", "30"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the process a moment to start
	time.Sleep(50 * time.Millisecond)

	// Stop should terminate the process gracefully
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err = handle.Stop(stopCtx)
	if err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	result, _ := handle.Wait(ctx)
	if result.ExitCode != -1 || result.Error == nil {
		t.Errorf("expected a signalled exit, got %+v", result)
	}
}

func TestStreamLogs_CapturesOutput(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"echo", "hello world"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	reader, err := handle.StreamLogs(ctx)
	if err != nil {
		t.Fatalf("StreamLogs failed: %v", err)
	}

	// Read all output
	buf := make([]byte, 1024)
	n, _ := reader.Read(buf)
	output := string(buf[:n])

	if !strings.Contains(output, "hello world") {
		t.Errorf("expected output to contain 'hello world', got: %s", output)
	}

	handle.Wait(ctx)
}

func TestStart_PassesEnvironment(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"sh", "-c", "echo $BUILDSTATE_TEST_VAR"},
		Env: map[string]string{
			"BUILDSTATE_BUILD_ID": "env-test",
			"BUILDSTATE_TEST_VAR": "custom-value",
		},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	reader, err := handle.StreamLogs(ctx)
	if err != nil {
		t.Fatalf("StreamLogs failed: %v", err)
	}

	buf := make([]byte, 1024)
	n, _ := reader.Read(buf)
	output := strings.TrimSpace(string(buf[:n]))

	if output != "custom-value" {
		t.Errorf("expected 'custom-value', got: '%s'", output)
	}

	handle.Wait(ctx)
}

func TestStart_ImageFieldIgnored(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	// Image field should be ignored without error
	handle, err := rt.Start(ctx, StartOptions{
		Image:   "registry.local/rhel9-builder:latest",
		Command: []string{"echo", "works"},
	})

	if err != nil {
		t.Fatalf("Start failed with image field: %v", err)
	}

	result, _ := handle.Wait(ctx)
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestStreamLogs_FollowsUntilExit(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"sh", "-c", "echo one; sleep 0.2; echo two >&2"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	reader, err := handle.StreamLogs(ctx)
	if err != nil {
		t.Fatalf("StreamLogs failed: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("expected both lines, got %q", data)
	}
}

func TestResourceName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"stage-10", "stage-10"},
		{"Build_42 CP-30", "build-42-cp-30"},
		{"--x--", "x"},
		{strings.Repeat("a", 70), strings.Repeat("a", 63)},
	}
	for _, tt := range tests {
		if got := resourceName(tt.in); got != tt.want {
			t.Errorf("resourceName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := resourceName(""); !strings.HasPrefix(got, "stage-") {
		t.Errorf("resourceName(\"\") = %q", got)
	}
}
