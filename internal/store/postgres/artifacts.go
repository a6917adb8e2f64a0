package postgres

import (
	"context"
	"fmt"

	"buildstate/internal/store"

	"github.com/google/uuid"
)

const artifactColumns = `id, build_id, checkpoint, name, storage_type, storage_path, size_bytes,
	checksum, metadata, resumable, final, created_by, created_at`

func scanArtifact(row rowScanner) (*store.Artifact, error) {
	var a store.Artifact
	err := row.Scan(
		&a.ID, &a.BuildID, &a.Checkpoint, &a.Name, &a.StorageType, &a.StoragePath, &a.SizeBytes,
		&a.Checksum, &a.Metadata, &a.Resumable, &a.Final, &a.CreatedBy, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateArtifact(ctx context.Context, a *store.Artifact) error {
	query := `
		INSERT INTO build_artifacts (` + artifactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.BuildID, a.Checkpoint, a.Name, a.StorageType, a.StoragePath, a.SizeBytes,
		a.Checksum, a.Metadata, a.Resumable, a.Final, a.CreatedBy, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register artifact: %w", err)
	}
	return nil
}

func (s *Store) LatestArtifact(ctx context.Context, buildID uuid.UUID, checkpoint int, resumableOnly bool) (*store.Artifact, error) {
	query := "SELECT " + artifactColumns + " FROM build_artifacts WHERE build_id = $1 AND checkpoint = $2"
	if resumableOnly {
		query += " AND resumable = TRUE"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT 1"

	a, err := scanArtifact(s.db.QueryRowContext(ctx, query, buildID, checkpoint))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) ListArtifacts(ctx context.Context, buildID uuid.UUID, filter store.ArtifactFilter) ([]store.Artifact, error) {
	query := "SELECT " + artifactColumns + " FROM build_artifacts WHERE build_id = $1"
	args := []interface{}{buildID}

	if filter.Checkpoint != nil {
		args = append(args, *filter.Checkpoint)
		query += fmt.Sprintf(" AND checkpoint = $%d", len(args))
	}
	if filter.Resumable != nil {
		args = append(args, *filter.Resumable)
		query += fmt.Sprintf(" AND resumable = $%d", len(args))
	}
	if filter.Final != nil {
		args = append(args, *filter.Final)
		query += fmt.Sprintf(" AND final = $%d", len(args))
	}
	query += " ORDER BY checkpoint ASC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []store.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}
