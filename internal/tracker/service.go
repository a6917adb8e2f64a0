// Package tracker implements the build-state machine: the checkpoint ledger,
// build records, failure log, artifact registry, variable store and resume
// planner. Transports adapt its operations; it holds no state between calls.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"buildstate/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTerminalCheckpoint = store.MaxCheckpoint
	DefaultMaxRetries         = 3
)

// Store is the persistence contract the Service needs.
type Store interface {
	store.BuildStore
	store.LedgerStore
	store.FailureStore
	store.ArtifactStore
	store.VariableStore
	store.ReferenceStore
}

// Options configures a Service.
type Options struct {
	// TerminalCheckpoint completes a build when reached (default: 100).
	TerminalCheckpoint int

	// MaxRetries bounds transparent retries after a version conflict (default: 3).
	MaxRetries int

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Caller is an authenticated identity with a coarse permission level.
type Caller struct {
	Identity string
	Level    store.Permission
}

// Service exposes the build-state operations.
type Service struct {
	store  Store
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
	failures    metric.Int64Counter
	artifacts   metric.Int64Counter
}

// New creates a Service over s.
func New(s Store, opts Options) *Service {
	if opts.TerminalCheckpoint <= store.MinCheckpoint || opts.TerminalCheckpoint > store.MaxCheckpoint {
		opts.TerminalCheckpoint = DefaultTerminalCheckpoint
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	svc := &Service{
		store:  s,
		opts:   opts,
		logger: opts.Logger,
		tracer: otel.Tracer("buildstate/tracker"),
	}

	meter := otel.Meter("buildstate/tracker")
	svc.transitions = svc.counter(meter, "buildstate.transitions", "Checkpoint ledger entries appended")
	svc.conflicts = svc.counter(meter, "buildstate.transition.conflicts", "Build version conflicts observed while transitioning")
	svc.failures = svc.counter(meter, "buildstate.failures.recorded", "Failure records created")
	svc.artifacts = svc.counter(meter, "buildstate.artifacts.registered", "Artifact records created")
	return svc
}

func (s *Service) counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		s.logger.Warn("failed to register counter", "name", name, "error", err)
	}
	return c
}

func (s *Service) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// TerminalCheckpoint returns the configured terminal checkpoint.
func (s *Service) TerminalCheckpoint() int {
	return s.opts.TerminalCheckpoint
}

func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "tracker."+op, trace.WithAttributes(attrs...))
}

// finish records err on span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

func authorize(c Caller, required store.Permission) error {
	if !c.Level.Allows(required) {
		return &Error{
			Kind:    KindPermissionDenied,
			Message: "caller " + c.Identity + " lacks " + string(required) + " permission",
		}
	}
	return nil
}
