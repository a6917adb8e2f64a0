package tracker

import (
	"context"
	"errors"

	"buildstate/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// TransitionRequest is one checkpoint status change reported by a worker.
type TransitionRequest struct {
	Checkpoint int
	Status     store.EntryStatus
	Message    *string
	Metadata   store.Metadata

	// Terminal completes the build on a completed entry below the terminal checkpoint.
	Terminal bool
}

// withRetry runs fn until it stops failing with store.ErrVersionConflict,
// at most MaxRetries+1 times.
func (s *Service) withRetry(ctx context.Context, buildID uuid.UUID, fn func() error) error {
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			var terr *Error
			if errors.As(err, &terr) {
				return err
			}
			return storeError(buildID, "update build", err)
		}

		s.add(ctx, s.conflicts)
		s.logger.DebugContext(ctx, "build version conflict, retrying", "build_id", buildID, "attempt", attempt+1)
	}

	return &Error{
		Kind:    KindConcurrentUpdateConflict,
		BuildID: buildID,
		Message: "build was modified concurrently, retry the operation",
		Err:     store.ErrVersionConflict,
	}
}

// Transition appends a ledger entry and updates the build record atomically.
func (s *Service) Transition(ctx context.Context, c Caller, buildID uuid.UUID, req TransitionRequest) (_ *store.CheckpointEntry, err error) {
	ctx, span := s.start(ctx, "Transition",
		attribute.String("build.id", buildID.String()),
		attribute.Int("checkpoint", req.Checkpoint),
		attribute.String("status", string(req.Status)),
	)
	defer func() { finish(span, err) }()

	if err := authorize(c, store.PermissionWrite); err != nil {
		return nil, err
	}
	if err := checkCheckpoint(buildID, req.Checkpoint); err != nil {
		return nil, err
	}
	if !req.Status.Valid() {
		return nil, newError(KindInvalidArgument, buildID, "unknown checkpoint status %q", req.Status).at(req.Checkpoint)
	}
	if req.Message != nil {
		if err := checkText(buildID, "message", *req.Message, MaxMessageLength); err != nil {
			return nil, err
		}
	}
	if err := checkMetadata(buildID, req.Metadata); err != nil {
		return nil, err
	}

	var entry *store.CheckpointEntry
	var next store.BuildUpdate
	err = s.withRetry(ctx, buildID, func() error {
		b, err := s.loadBuild(ctx, buildID)
		if err != nil {
			return err
		}

		entry, next, err = s.decide(ctx, c, b, req)
		if err != nil {
			return err
		}
		return s.store.AppendTransition(ctx, entry, next)
	})
	if err != nil {
		return nil, err
	}

	s.add(ctx, s.transitions, attribute.String("status", string(req.Status)))
	s.logger.InfoContext(ctx, "checkpoint transition",
		"build_id", buildID,
		"checkpoint", req.Checkpoint,
		"status", req.Status,
		"build_status", next.Status,
		"current_checkpoint", next.CurrentCheckpoint,
		"retry_count", entry.RetryCount,
	)
	return entry, nil
}

// decide computes the ledger entry and build update for req against b.
func (s *Service) decide(ctx context.Context, c Caller, b *store.Build, req TransitionRequest) (*store.CheckpointEntry, store.BuildUpdate, error) {
	cp := req.Checkpoint
	if b.Status.Terminal() {
		return nil, store.BuildUpdate{}, newError(KindInvalidTransition, b.ID, "build is %s", b.Status).at(cp)
	}
	if cp < b.CurrentCheckpoint && b.Status != store.BuildStatusFailed {
		return nil, store.BuildUpdate{}, newError(KindInvalidTransition, b.ID,
			"checkpoint is below current checkpoint %d and the build has not failed", b.CurrentCheckpoint).at(cp)
	}

	now := s.opts.Now()
	entry := &store.CheckpointEntry{
		BuildID:    b.ID,
		Checkpoint: cp,
		Status:     req.Status,
		StartTime:  now,
		Message:    req.Message,
		Metadata:   req.Metadata,
		CreatedBy:  c.Identity,
		CreatedAt:  now,
	}

	if req.Status.Closed() {
		latest, err := s.store.LatestEntry(ctx, b.ID, cp)
		switch {
		case err == nil && latest.Status == store.EntryStatusStarted:
			entry.StartTime = latest.StartTime
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, store.BuildUpdate{}, storeError(b.ID, "load latest entry", err)
		}
		end := now
		duration := end.Sub(entry.StartTime).Milliseconds()
		entry.EndTime = &end
		entry.DurationMs = &duration
	}

	retries, err := s.store.CountFailedEntries(ctx, b.ID, cp)
	if err != nil {
		return nil, store.BuildUpdate{}, storeError(b.ID, "count failed entries", err)
	}
	entry.RetryCount = retries

	next := store.BuildUpdate{
		ID:                b.ID,
		ExpectedVersion:   b.Version,
		CurrentCheckpoint: b.CurrentCheckpoint,
		Status:            b.Status,
		EndTime:           b.EndTime,
		UpdatedAt:         now,
	}

	switch req.Status {
	case store.EntryStatusStarted:
		// A retry below the current checkpoint leaves the build failed until
		// its closing entry, otherwise that entry would be rejected.
		if cp < b.CurrentCheckpoint && b.Status == store.BuildStatusFailed {
			break
		}
		if b.Status != store.BuildStatusRunning {
			next.Status = store.BuildStatusRunning
		}
	case store.EntryStatusCompleted:
		if cp > next.CurrentCheckpoint {
			next.CurrentCheckpoint = cp
		}
		next.Status = store.BuildStatusRunning
		if cp == s.opts.TerminalCheckpoint || req.Terminal {
			next.Status = store.BuildStatusCompleted
			next.EndTime = &now
		}
	case store.EntryStatusFailed:
		next.Status = store.BuildStatusFailed
	case store.EntryStatusSkipped:
		// audit only
	}

	return entry, next, nil
}

// ListLedger returns the build's ledger oldest first.
func (s *Service) ListLedger(ctx context.Context, c Caller, buildID uuid.UUID) ([]store.CheckpointEntry, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListLedger(ctx, buildID)
	if err != nil {
		return nil, storeError(buildID, "list ledger", err)
	}
	return entries, nil
}
