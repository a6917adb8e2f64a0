// Package worker runs build stages and reports them to the controller.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"buildstate/internal/artifact"
	"buildstate/internal/worker/runtime"
	"buildstate/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Failure categories recorded by the runner.
const (
	CategoryStage   = "stage"
	CategoryTimeout = "timeout"
	CategoryRuntime = "runtime"
)

// Environment variables passed to every stage.
const (
	EnvBuildID          = "BUILDSTATE_BUILD_ID"
	EnvCheckpoint       = "BUILDSTATE_CHECKPOINT"
	EnvResumeCheckpoint = "BUILDSTATE_RESUME_CHECKPOINT"
	EnvArtifactPath     = "BUILDSTATE_ARTIFACT_PATH"
)

// ErrStageFailed is returned when a stage ran but did not succeed. The
// failure has already been recorded.
var ErrStageFailed = errors.New("stage failed")

// Controller is the part of the controller API the runner calls.
// *client.Client implements it.
type Controller interface {
	Transition(ctx context.Context, buildID string, req api.TransitionRequest) (*api.LedgerEntryResponse, error)
	RecordFailure(ctx context.Context, buildID string, req api.RecordFailureRequest) (*api.FailureResponse, error)
	RegisterArtifact(ctx context.Context, buildID string, req api.RegisterArtifactRequest) (*api.ArtifactResponse, error)
	PlanResume(ctx context.Context, buildID string, target *int, requiredKeys []string) (*api.ResumePlanResponse, error)
	GetVariable(ctx context.Context, buildID, key string) (*api.VariableResponse, error)
}

// RunnerConfig holds configuration for the stage runner.
type RunnerConfig struct {
	StageTimeout time.Duration // Default: 2h
	LogTailLines int           // Lines of output kept for failure records (default: 50)
	Component    string        // Reported on failure records (default: stage-runner)
}

// Runner wraps a stage command in checkpoint transitions.
type Runner struct {
	controller Controller
	runtime    runtime.Runtime
	retriever  *artifact.Retriever
	config     RunnerConfig
	logger     *slog.Logger
}

// NewRunner creates a runner. retriever may be nil when the runner never restores artifacts.
func NewRunner(c Controller, rt runtime.Runtime, retriever *artifact.Retriever, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.StageTimeout <= 0 {
		config.StageTimeout = 2 * time.Hour
	}
	if config.LogTailLines <= 0 {
		config.LogTailLines = 50
	}
	if config.Component == "" {
		config.Component = "stage-runner"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		controller: c,
		runtime:    rt,
		retriever:  retriever,
		config:     config,
		logger:     logger,
	}
}

// Stage is one command run at a checkpoint.
type Stage struct {
	BuildID    string
	Checkpoint int
	Name       string
	Image      string
	Command    []string
	Env        map[string]string
	WorkDir    string

	// Terminal completes the build when the stage succeeds.
	Terminal bool

	// Output, when set, is registered as the checkpoint's artifact on success.
	Output *StageOutput
}

// StageOutput describes the artifact a stage produces.
type StageOutput struct {
	Name        string
	StorageType string
	StoragePath string

	// LocalPath is hashed and sized before registration when set.
	LocalPath string

	Resumable bool
	Final     bool
}

// StageResult is the outcome of RunStage.
type StageResult struct {
	ExitCode int
	Duration time.Duration
	Artifact *api.ArtifactResponse
	Failure  *api.FailureResponse
}

// RunStage reports the checkpoint as started, runs the stage and reports it
// as completed or failed. A failed stage returns ErrStageFailed along with
// the result holding the recorded failure.
func (r *Runner) RunStage(ctx context.Context, s Stage) (_ *StageResult, err error) {
	tracer := otel.Tracer("stage-runner")
	ctx, span := tracer.Start(ctx, "run_stage",
		trace.WithAttributes(
			attribute.String("build.id", s.BuildID),
			attribute.Int("checkpoint", s.Checkpoint),
			attribute.String("stage.name", s.Name),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := r.logger.With("build_id", s.BuildID, "checkpoint", s.Checkpoint)

	if _, err := r.controller.Transition(ctx, s.BuildID, api.TransitionRequest{
		Checkpoint: &s.Checkpoint,
		Status:     "started",
		Message:    optional(s.Name),
	}); err != nil {
		return nil, fmt.Errorf("failed to report stage start: %w", err)
	}
	log.InfoContext(ctx, "stage started", "name", s.Name)

	env := map[string]string{
		EnvBuildID:    s.BuildID,
		EnvCheckpoint: strconv.Itoa(s.Checkpoint),
	}
	for k, v := range s.Env {
		env[k] = v
	}

	// Reporting must still happen when ctx is cancelled mid-stage.
	reportCtx := context.WithoutCancel(ctx)

	execCtx, cancel := context.WithTimeout(ctx, r.config.StageTimeout)
	defer cancel()

	started := time.Now()
	handle, err := r.runtime.Start(execCtx, runtime.StartOptions{
		Name:    fmt.Sprintf("%s-%d-%s", shortID(s.BuildID), s.Checkpoint, s.Name),
		Image:   s.Image,
		Command: s.Command,
		Env:     env,
		WorkDir: s.WorkDir,
		Timeout: r.config.StageTimeout,
		Labels: map[string]string{
			"buildstate/build-id":   s.BuildID,
			"buildstate/checkpoint": strconv.Itoa(s.Checkpoint),
		},
	})
	if err != nil {
		res := &StageResult{ExitCode: -1}
		res.Failure = r.fail(reportCtx, s, CategoryRuntime, fmt.Sprintf("failed to start stage: %v", err), -1, nil)
		return res, fmt.Errorf("%w: %v", ErrStageFailed, err)
	}

	tail := newLineTail(r.config.LogTailLines)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.streamLogs(execCtx, log, handle, tail)
	}()

	result, waitErr := handle.Wait(execCtx)
	wg.Wait()

	res := &StageResult{ExitCode: result.ExitCode, Duration: time.Since(started)}
	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))

	if waitErr != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			log.WarnContext(ctx, "stage timed out", "timeout", r.config.StageTimeout)
			stopCtx, stopCancel := context.WithTimeout(reportCtx, 10*time.Second)
			defer stopCancel()
			if err := handle.Stop(stopCtx); err != nil {
				log.WarnContext(ctx, "failed to stop stage", "error", err)
			}
			res.Failure = r.fail(reportCtx, s, CategoryTimeout,
				fmt.Sprintf("stage timed out after %v", r.config.StageTimeout), result.ExitCode, tail.Lines())
			return res, fmt.Errorf("%w: timed out", ErrStageFailed)
		}

		res.Failure = r.fail(reportCtx, s, CategoryRuntime,
			fmt.Sprintf("runtime wait error: %v", waitErr), result.ExitCode, tail.Lines())
		return res, fmt.Errorf("%w: %v", ErrStageFailed, waitErr)
	}

	if result.ExitCode != 0 {
		msg := fmt.Sprintf("exit code %d", result.ExitCode)
		if result.Error != nil {
			msg = result.Error.Error()
		}
		res.Failure = r.fail(reportCtx, s, CategoryStage, msg, result.ExitCode, tail.Lines())
		return res, fmt.Errorf("%w: %s", ErrStageFailed, msg)
	}

	if s.Output != nil {
		a, err := r.registerOutput(reportCtx, s)
		if err != nil {
			res.Failure = r.fail(reportCtx, s, CategoryRuntime, err.Error(), 0, nil)
			return res, fmt.Errorf("%w: %v", ErrStageFailed, err)
		}
		res.Artifact = a
	}

	durationMs := res.Duration.Milliseconds()
	if _, err := r.controller.Transition(reportCtx, s.BuildID, api.TransitionRequest{
		Checkpoint: &s.Checkpoint,
		Status:     "completed",
		Metadata:   map[string]any{"exit_code": 0, "duration_ms": durationMs},
		Terminal:   s.Terminal,
	}); err != nil {
		return res, fmt.Errorf("failed to report stage completion: %w", err)
	}

	log.InfoContext(ctx, "stage completed", "name", s.Name, "duration_ms", durationMs)
	return res, nil
}

// fail reports the checkpoint as failed and records the failure. Reporting
// errors are logged; the stage error is what the caller acts on.
func (r *Runner) fail(ctx context.Context, s Stage, category, message string, exitCode int, tail []string) *api.FailureResponse {
	log := r.logger.With("build_id", s.BuildID, "checkpoint", s.Checkpoint)
	log.ErrorContext(ctx, "stage failed", "category", category, "error", message)

	retryAttempt := 0
	entry, err := r.controller.Transition(ctx, s.BuildID, api.TransitionRequest{
		Checkpoint: &s.Checkpoint,
		Status:     "failed",
		Message:    &message,
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to report stage failure", "error", err)
	} else {
		retryAttempt = entry.RetryCount
	}

	detail := map[string]any{"exit_code": exitCode}
	if len(tail) > 0 {
		detail["log_tail"] = strings.Join(tail, "\n")
	}
	if s.Image != "" {
		detail["image"] = s.Image
	}

	f, err := r.controller.RecordFailure(ctx, s.BuildID, api.RecordFailureRequest{
		Checkpoint:   s.Checkpoint,
		Category:     category,
		Message:      message,
		Detail:       detail,
		Component:    &r.config.Component,
		RetryAttempt: retryAttempt,
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to record failure", "error", err)
		return nil
	}
	return f
}

func (r *Runner) registerOutput(ctx context.Context, s Stage) (*api.ArtifactResponse, error) {
	out := s.Output
	req := api.RegisterArtifactRequest{
		Checkpoint:  s.Checkpoint,
		Name:        optional(out.Name),
		StorageType: out.StorageType,
		StoragePath: out.StoragePath,
		Resumable:   out.Resumable,
		Final:       out.Final,
	}

	if out.LocalPath != "" {
		f, err := os.Open(out.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open stage output: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat stage output: %w", err)
		}
		sum, err := artifact.Checksum(f, "sha256")
		if err != nil {
			return nil, fmt.Errorf("failed to hash stage output: %w", err)
		}
		size := info.Size()
		req.SizeBytes = &size
		req.Checksum = &sum
	}

	a, err := r.controller.RegisterArtifact(ctx, s.BuildID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to register artifact: %w", err)
	}
	return a, nil
}

func (r *Runner) streamLogs(ctx context.Context, log *slog.Logger, handle runtime.Handle, tail *lineTail) {
	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		log.WarnContext(ctx, "failed to get log stream", "error", err)
		return
	}
	if rc == nil {
		return
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.ReplaceAll(scanner.Text(), "\x00", "")
		tail.Add(line)
		log.DebugContext(ctx, "stage output", "line", line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
		log.WarnContext(ctx, "log stream ended with error", "error", err)
	}
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
