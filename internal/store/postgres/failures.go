package postgres

import (
	"context"
	"fmt"

	"buildstate/internal/store"

	"github.com/google/uuid"
)

const failureColumns = `id, build_id, checkpoint, category, message, detail, component, retry_attempt,
	resolved, resolution_note, resolved_at, resolved_by, created_by, created_at`

func scanFailure(row rowScanner) (*store.FailureRecord, error) {
	var f store.FailureRecord
	err := row.Scan(
		&f.ID, &f.BuildID, &f.Checkpoint, &f.Category, &f.Message, &f.Detail, &f.Component, &f.RetryAttempt,
		&f.Resolved, &f.ResolutionNote, &f.ResolvedAt, &f.ResolvedBy, &f.CreatedBy, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) CreateFailure(ctx context.Context, f *store.FailureRecord) error {
	query := `
		INSERT INTO build_failures (` + failureColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.BuildID, f.Checkpoint, f.Category, f.Message, f.Detail, f.Component, f.RetryAttempt,
		f.Resolved, f.ResolutionNote, f.ResolvedAt, f.ResolvedBy, f.CreatedBy, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

func (s *Store) GetFailure(ctx context.Context, id uuid.UUID) (*store.FailureRecord, error) {
	query := "SELECT " + failureColumns + " FROM build_failures WHERE id = $1"

	f, err := scanFailure(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// ResolveFailure only ever touches the resolution columns.
func (s *Store) ResolveFailure(ctx context.Context, f *store.FailureRecord) error {
	query := `
		UPDATE build_failures
		SET resolved = TRUE, resolution_note = $1, resolved_at = $2, resolved_by = $3
		WHERE id = $4
	`

	res, err := s.db.ExecContext(ctx, query, f.ResolutionNote, f.ResolvedAt, f.ResolvedBy, f.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve failure %s: %w", f.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListFailures(ctx context.Context, buildID uuid.UUID, unresolvedOnly bool) ([]store.FailureRecord, error) {
	query := "SELECT " + failureColumns + " FROM build_failures WHERE build_id = $1"
	if unresolvedOnly {
		query += " AND resolved = FALSE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []store.FailureRecord
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		failures = append(failures, *f)
	}
	return failures, rows.Err()
}
