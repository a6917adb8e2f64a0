package tracker

import (
	"context"
	"errors"
	"strings"

	"buildstate/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// FailureRequest describes a failed attempt at a checkpoint.
type FailureRequest struct {
	Checkpoint   int
	Category     string
	Message      string
	Detail       store.Metadata
	Component    *string
	RetryAttempt int
}

// RecordFailure logs a failure. It does not touch the build record; callers
// pair it with a failed Transition in either order.
func (s *Service) RecordFailure(ctx context.Context, c Caller, buildID uuid.UUID, req FailureRequest) (_ *store.FailureRecord, err error) {
	ctx, span := s.start(ctx, "RecordFailure",
		attribute.String("build.id", buildID.String()),
		attribute.Int("checkpoint", req.Checkpoint),
		attribute.String("category", req.Category),
	)
	defer func() { finish(span, err) }()

	if err := authorize(c, store.PermissionWrite); err != nil {
		return nil, err
	}
	if err := checkCheckpoint(buildID, req.Checkpoint); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Category) == "" {
		return nil, newError(KindInvalidArgument, buildID, "category is required").at(req.Checkpoint)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, newError(KindInvalidArgument, buildID, "message is required").at(req.Checkpoint)
	}
	if err := checkText(buildID, "message", req.Message, MaxFailureMessageLength); err != nil {
		return nil, err
	}
	if req.RetryAttempt < 0 {
		return nil, newError(KindInvalidArgument, buildID, "retry attempt must not be negative").at(req.Checkpoint)
	}
	if err := checkMetadata(buildID, req.Detail); err != nil {
		return nil, err
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}

	f := &store.FailureRecord{
		ID:           uuid.New(),
		BuildID:      buildID,
		Checkpoint:   req.Checkpoint,
		Category:     req.Category,
		Message:      req.Message,
		Detail:       req.Detail,
		Component:    req.Component,
		RetryAttempt: req.RetryAttempt,
		CreatedBy:    c.Identity,
		CreatedAt:    s.opts.Now(),
	}
	if err := s.store.CreateFailure(ctx, f); err != nil {
		return nil, storeError(buildID, "create failure", err)
	}

	s.add(ctx, s.failures, attribute.String("category", req.Category))
	s.logger.WarnContext(ctx, "failure recorded",
		"build_id", buildID, "checkpoint", req.Checkpoint, "category", req.Category, "retry_attempt", req.RetryAttempt)
	return f, nil
}

// ResolveFailure marks a failure resolved. Build state is unaffected.
func (s *Service) ResolveFailure(ctx context.Context, c Caller, failureID uuid.UUID, note string) (*store.FailureRecord, error) {
	if err := authorize(c, store.PermissionWrite); err != nil {
		return nil, err
	}
	if err := checkText(uuid.Nil, "note", note, MaxFailureMessageLength); err != nil {
		return nil, err
	}

	f, err := s.store.GetFailure(ctx, failureID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, uuid.Nil, "failure %s does not exist", failureID)
		}
		return nil, storeError(uuid.Nil, "load failure", err)
	}

	now := s.opts.Now()
	by := c.Identity
	f.Resolved = true
	f.ResolutionNote = &note
	f.ResolvedAt = &now
	f.ResolvedBy = &by

	if err := s.store.ResolveFailure(ctx, f); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, f.BuildID, "failure %s does not exist", failureID)
		}
		return nil, storeError(f.BuildID, "resolve failure", err)
	}

	s.logger.InfoContext(ctx, "failure resolved", "build_id", f.BuildID, "failure_id", failureID, "by", by)
	return f, nil
}

func (s *Service) ListFailures(ctx context.Context, c Caller, buildID uuid.UUID, unresolvedOnly bool) ([]store.FailureRecord, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}
	failures, err := s.store.ListFailures(ctx, buildID, unresolvedOnly)
	if err != nil {
		return nil, storeError(buildID, "list failures", err)
	}
	return failures, nil
}
