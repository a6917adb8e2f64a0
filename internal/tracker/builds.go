package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"buildstate/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// MaxListLimit caps ListBuilds page sizes.
const MaxListLimit = 100

// StartBuildRequest describes a new build.
type StartBuildRequest struct {
	Owner           string
	Platform        string
	OSVersion       string
	ImageType       string
	StartCheckpoint int
	Description     *string
	Metadata        store.Metadata
}

// StartBuild creates a running build positioned at StartCheckpoint.
func (s *Service) StartBuild(ctx context.Context, c Caller, req StartBuildRequest) (_ *store.Build, err error) {
	ctx, span := s.start(ctx, "StartBuild",
		attribute.String("build.platform", req.Platform),
		attribute.String("build.os_version", req.OSVersion),
		attribute.String("build.image_type", req.ImageType),
	)
	defer func() { finish(span, err) }()

	if err := authorize(c, store.PermissionWrite); err != nil {
		return nil, err
	}
	if err := checkCheckpoint(uuid.Nil, req.StartCheckpoint); err != nil {
		return nil, err
	}
	if req.Description != nil {
		if err := checkText(uuid.Nil, "description", *req.Description, MaxMessageLength); err != nil {
			return nil, err
		}
	}
	if err := checkMetadata(uuid.Nil, req.Metadata); err != nil {
		return nil, err
	}
	if err := s.resolveReferences(ctx, req); err != nil {
		return nil, err
	}

	owner := req.Owner
	if owner == "" {
		owner = c.Identity
	}

	now := s.opts.Now()
	id := uuid.New()
	b := &store.Build{
		ID:                id,
		BuildNumber:       buildNumber(req, id, now.Format("20060102-150405")),
		Platform:          req.Platform,
		OSVersion:         req.OSVersion,
		ImageType:         req.ImageType,
		Description:       req.Description,
		Metadata:          req.Metadata,
		CurrentCheckpoint: req.StartCheckpoint,
		StartCheckpoint:   req.StartCheckpoint,
		Status:            store.BuildStatusRunning,
		Owner:             owner,
		Version:           1,
		StartTime:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateBuild(ctx, b); err != nil {
		return nil, storeError(id, "create build", err)
	}

	span.SetAttributes(attribute.String("build.id", id.String()))
	s.logger.InfoContext(ctx, "build started",
		"build_id", id, "build_number", b.BuildNumber, "owner", owner, "checkpoint", b.CurrentCheckpoint)
	return b, nil
}

func buildNumber(req StartBuildRequest, id uuid.UUID, stamp string) string {
	return fmt.Sprintf("%s-%s-%s-%s-%s", req.OSVersion, req.ImageType, req.Platform, stamp, id.String()[:6])
}

func (s *Service) resolveReferences(ctx context.Context, req StartBuildRequest) error {
	refs := []struct {
		kind store.ReferenceKind
		name string
	}{
		{store.ReferencePlatform, req.Platform},
		{store.ReferenceOSVersion, req.OSVersion},
		{store.ReferenceImageType, req.ImageType},
	}

	var unresolved []string
	for _, ref := range refs {
		if ref.name == "" {
			unresolved = append(unresolved, fmt.Sprintf("%s is required", ref.kind))
			continue
		}
		ok, err := s.store.ReferenceExists(ctx, ref.kind, ref.name)
		if err != nil {
			return storeError(uuid.Nil, "resolve "+string(ref.kind), err)
		}
		if !ok {
			unresolved = append(unresolved, fmt.Sprintf("unknown %s %q", ref.kind, ref.name))
		}
	}

	if len(unresolved) > 0 {
		return newError(KindInvalidReference, uuid.Nil, "%s", strings.Join(unresolved, "; "))
	}
	return nil
}

// RegisterReference adds a platform, OS version or image type identifier.
func (s *Service) RegisterReference(ctx context.Context, c Caller, kind store.ReferenceKind, name string) error {
	if err := authorize(c, store.PermissionAdmin); err != nil {
		return err
	}
	if !kind.Valid() {
		return newError(KindInvalidArgument, uuid.Nil, "unknown reference kind %q", kind)
	}
	if strings.TrimSpace(name) == "" {
		return newError(KindInvalidArgument, uuid.Nil, "reference name is required")
	}
	if err := s.store.CreateReference(ctx, kind, name); err != nil {
		return storeError(uuid.Nil, "create reference", err)
	}
	return nil
}

// loadBuild maps a missing row to KindUnknownBuild.
func (s *Service) loadBuild(ctx context.Context, id uuid.UUID) (*store.Build, error) {
	b, err := s.store.GetBuild(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindUnknownBuild, id, "build does not exist")
		}
		return nil, storeError(id, "load build", err)
	}
	return b, nil
}

func (s *Service) GetBuild(ctx context.Context, c Caller, id uuid.UUID) (*store.Build, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	return s.loadBuild(ctx, id)
}

func (s *Service) GetBuildByNumber(ctx context.Context, c Caller, number string) (*store.Build, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	b, err := s.store.GetBuildByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindUnknownBuild, uuid.Nil, "no build numbered %q", number)
		}
		return nil, storeError(uuid.Nil, "load build by number", err)
	}
	return b, nil
}

func (s *Service) ListBuilds(ctx context.Context, c Caller, filter store.BuildFilter) ([]store.Build, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, newError(KindInvalidArgument, uuid.Nil, "unknown build status %q", st)
		}
	}
	if filter.Limit <= 0 || filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	builds, err := s.store.ListBuilds(ctx, filter)
	if err != nil {
		return nil, storeError(uuid.Nil, "list builds", err)
	}
	return builds, nil
}

// CancelBuild stops a non-terminal build. It appends nothing to the ledger.
func (s *Service) CancelBuild(ctx context.Context, c Caller, id uuid.UUID, reason string) (_ *store.Build, err error) {
	ctx, span := s.start(ctx, "CancelBuild", attribute.String("build.id", id.String()))
	defer func() { finish(span, err) }()

	if err := authorize(c, store.PermissionAdmin); err != nil {
		return nil, err
	}
	if err := checkText(id, "reason", reason, MaxMessageLength); err != nil {
		return nil, err
	}

	var b *store.Build
	err = s.withRetry(ctx, id, func() error {
		var lerr error
		if b, lerr = s.loadBuild(ctx, id); lerr != nil {
			return lerr
		}
		if b.Status.Terminal() {
			return newError(KindInvalidTransition, id, "build is already %s", b.Status)
		}

		now := s.opts.Now()
		if err := s.store.UpdateBuild(ctx, store.BuildUpdate{
			ID:                id,
			ExpectedVersion:   b.Version,
			CurrentCheckpoint: b.CurrentCheckpoint,
			Status:            store.BuildStatusCancelled,
			EndTime:           &now,
			UpdatedAt:         now,
		}); err != nil {
			return err
		}

		b.Status = store.BuildStatusCancelled
		b.EndTime = &now
		b.UpdatedAt = now
		b.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "build cancelled", "build_id", id, "by", c.Identity, "reason", reason)
	return b, nil
}

// Summary counts builds per status.
func (s *Service) Summary(ctx context.Context, c Caller) (map[store.BuildStatus]int64, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	counts, err := s.store.CountBuildsByStatus(ctx)
	if err != nil {
		return nil, storeError(uuid.Nil, "count builds", err)
	}
	return counts, nil
}
