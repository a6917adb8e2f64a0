package postgres

import (
	"context"
	"fmt"

	"buildstate/internal/store"

	"github.com/google/uuid"
)

const ledgerColumns = `id, build_id, checkpoint, status, start_time, end_time, duration_ms,
	message, metadata, retry_count, created_by, created_at`

func scanEntry(row rowScanner) (*store.CheckpointEntry, error) {
	var e store.CheckpointEntry
	err := row.Scan(
		&e.ID, &e.BuildID, &e.Checkpoint, &e.Status, &e.StartTime, &e.EndTime, &e.DurationMs,
		&e.Message, &e.Metadata, &e.RetryCount, &e.CreatedBy, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendTransition updates the build row under its version guard and
// inserts the ledger entry in the same transaction. The UPDATE takes the
// row lock, so a concurrent writer blocks and then matches zero rows.
func (s *Store) AppendTransition(ctx context.Context, entry *store.CheckpointEntry, update store.BuildUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.updateBuild(ctx, tx, update); err != nil {
		return err
	}

	query := `
		INSERT INTO checkpoint_ledger (build_id, checkpoint, status, start_time, end_time, duration_ms,
			message, metadata, retry_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err = tx.QueryRowContext(ctx, query,
		entry.BuildID, entry.Checkpoint, entry.Status, entry.StartTime, entry.EndTime, entry.DurationMs,
		entry.Message, entry.Metadata, entry.RetryCount, entry.CreatedBy, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry for build %s: %w", entry.BuildID, err)
	}

	return tx.Commit()
}

func (s *Store) ListLedger(ctx context.Context, buildID uuid.UUID) ([]store.CheckpointEntry, error) {
	query := "SELECT " + ledgerColumns + " FROM checkpoint_ledger WHERE build_id = $1 ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	var entries []store.CheckpointEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *Store) LatestEntry(ctx context.Context, buildID uuid.UUID, checkpoint int) (*store.CheckpointEntry, error) {
	query := "SELECT " + ledgerColumns + ` FROM checkpoint_ledger
		WHERE build_id = $1 AND checkpoint = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, buildID, checkpoint))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *Store) CountFailedEntries(ctx context.Context, buildID uuid.UUID, checkpoint int) (int, error) {
	query := `SELECT COUNT(*) FROM checkpoint_ledger WHERE build_id = $1 AND checkpoint = $2 AND status = $3`

	var count int
	if err := s.db.QueryRowContext(ctx, query, buildID, checkpoint, store.EntryStatusFailed).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// HighestCompleted folds the ledger: MAX over completed rows at or below a bound.
func (s *Store) HighestCompleted(ctx context.Context, buildID uuid.UUID, atOrBelow int) (int, error) {
	query := `SELECT MAX(checkpoint) FROM checkpoint_ledger WHERE build_id = $1 AND status = $2 AND checkpoint <= $3`

	var highest *int
	if err := s.db.QueryRowContext(ctx, query, buildID, store.EntryStatusCompleted, atOrBelow).Scan(&highest); err != nil {
		return 0, err
	}
	if highest == nil {
		return 0, store.ErrNotFound
	}
	return *highest, nil
}

func (s *Store) LastFailedCheckpoint(ctx context.Context, buildID uuid.UUID) (int, error) {
	query := `SELECT checkpoint FROM checkpoint_ledger
		WHERE build_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var checkpoint int
	if err := s.db.QueryRowContext(ctx, query, buildID, store.EntryStatusFailed).Scan(&checkpoint); err != nil {
		return 0, notFound(err)
	}
	return checkpoint, nil
}
