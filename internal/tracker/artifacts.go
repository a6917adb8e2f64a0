package tracker

import (
	"context"
	"errors"
	"strings"

	"buildstate/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ArtifactRequest describes where a checkpoint's output lives.
type ArtifactRequest struct {
	Checkpoint  int
	Name        *string
	StorageType string
	StoragePath string
	SizeBytes   *int64
	Checksum    *string
	Resumable   bool
	Final       bool
	Metadata    store.Metadata
}

// RegisterArtifact records an artifact. Reachability and content are never checked.
func (s *Service) RegisterArtifact(ctx context.Context, c Caller, buildID uuid.UUID, req ArtifactRequest) (_ *store.Artifact, err error) {
	ctx, span := s.start(ctx, "RegisterArtifact",
		attribute.String("build.id", buildID.String()),
		attribute.Int("checkpoint", req.Checkpoint),
		attribute.String("storage_type", req.StorageType),
	)
	defer func() { finish(span, err) }()

	if err := authorize(c, store.PermissionWrite); err != nil {
		return nil, err
	}
	if err := checkCheckpoint(buildID, req.Checkpoint); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.StorageType) == "" || strings.TrimSpace(req.StoragePath) == "" {
		return nil, newError(KindInvalidArgument, buildID, "storage type and path are required").at(req.Checkpoint)
	}
	if req.SizeBytes != nil && *req.SizeBytes < 0 {
		return nil, newError(KindInvalidArgument, buildID, "size must not be negative").at(req.Checkpoint)
	}

	var checksum *string
	if req.Checksum != nil && *req.Checksum != "" {
		normalized, ok := NormalizeChecksum(*req.Checksum)
		if !ok {
			return nil, newError(KindInvalidArgument, buildID, "malformed checksum %q", *req.Checksum).at(req.Checkpoint)
		}
		checksum = &normalized
	}
	if err := checkMetadata(buildID, req.Metadata); err != nil {
		return nil, err
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}

	a := &store.Artifact{
		ID:          uuid.New(),
		BuildID:     buildID,
		Checkpoint:  req.Checkpoint,
		Name:        req.Name,
		StorageType: strings.ToLower(req.StorageType),
		StoragePath: req.StoragePath,
		SizeBytes:   req.SizeBytes,
		Checksum:    checksum,
		Metadata:    req.Metadata,
		Resumable:   req.Resumable,
		Final:       req.Final,
		CreatedBy:   c.Identity,
		CreatedAt:   s.opts.Now(),
	}
	if err := s.store.CreateArtifact(ctx, a); err != nil {
		return nil, storeError(buildID, "create artifact", err)
	}

	s.add(ctx, s.artifacts, attribute.String("storage_type", a.StorageType))
	s.logger.InfoContext(ctx, "artifact registered",
		"build_id", buildID, "checkpoint", a.Checkpoint, "storage_type", a.StorageType, "resumable", a.Resumable)
	return a, nil
}

// GetLatestArtifact returns the most recent artifact registered at exactly checkpoint.
func (s *Service) GetLatestArtifact(ctx context.Context, c Caller, buildID uuid.UUID, checkpoint int) (*store.Artifact, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	if err := checkCheckpoint(buildID, checkpoint); err != nil {
		return nil, err
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}

	a, err := s.store.LatestArtifact(ctx, buildID, checkpoint, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, buildID, "no artifact registered").at(checkpoint)
		}
		return nil, storeError(buildID, "load artifact", err)
	}
	return a, nil
}

func (s *Service) ListArtifacts(ctx context.Context, c Caller, buildID uuid.UUID, filter store.ArtifactFilter) ([]store.Artifact, error) {
	if err := authorize(c, store.PermissionRead); err != nil {
		return nil, err
	}
	if filter.Checkpoint != nil {
		if err := checkCheckpoint(buildID, *filter.Checkpoint); err != nil {
			return nil, err
		}
	}
	if _, err := s.loadBuild(ctx, buildID); err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifacts(ctx, buildID, filter)
	if err != nil {
		return nil, storeError(buildID, "list artifacts", err)
	}
	return artifacts, nil
}
