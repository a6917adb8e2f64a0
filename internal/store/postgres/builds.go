package postgres

import (
	"context"
	"fmt"
	"strings"

	"buildstate/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const buildColumns = `id, build_number, platform, os_version, image_type, description, metadata,
	current_checkpoint, start_checkpoint, status, owner, version,
	start_time, end_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*store.Build, error) {
	var b store.Build
	err := row.Scan(
		&b.ID, &b.BuildNumber, &b.Platform, &b.OSVersion, &b.ImageType,
		&b.Description, &b.Metadata,
		&b.CurrentCheckpoint, &b.StartCheckpoint, &b.Status, &b.Owner, &b.Version,
		&b.StartTime, &b.EndTime, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBuild inserts a new build row.
func (s *Store) CreateBuild(ctx context.Context, b *store.Build) error {
	query := `
		INSERT INTO builds (` + buildColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.BuildNumber, b.Platform, b.OSVersion, b.ImageType,
		b.Description, b.Metadata,
		b.CurrentCheckpoint, b.StartCheckpoint, b.Status, b.Owner, b.Version,
		b.StartTime, b.EndTime, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("build number %s: %w", b.BuildNumber, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to create build: %w", err)
	}
	return nil
}

func (s *Store) GetBuild(ctx context.Context, id uuid.UUID) (*store.Build, error) {
	query := "SELECT " + buildColumns + " FROM builds WHERE id = $1"

	b, err := scanBuild(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (s *Store) GetBuildByNumber(ctx context.Context, number string) (*store.Build, error) {
	query := "SELECT " + buildColumns + " FROM builds WHERE build_number = $1"

	b, err := scanBuild(s.db.QueryRowContext(ctx, query, number))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// ListBuilds returns builds newest first.
func (s *Store) ListBuilds(ctx context.Context, filter store.BuildFilter) ([]store.Build, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	args := []interface{}{limit, filter.Offset}
	var conditions []string

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		conditions = append(conditions, fmt.Sprintf("platform = $%d", len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM builds
		%s
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, buildColumns, whereClause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var builds []store.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *b)
	}
	return builds, rows.Err()
}

// UpdateBuild applies a version-guarded update outside of a ledger append.
func (s *Store) UpdateBuild(ctx context.Context, update store.BuildUpdate) error {
	return s.updateBuild(ctx, nil, update)
}

func (s *Store) updateBuild(ctx context.Context, tx store.DBTransaction, update store.BuildUpdate) error {
	query := `
		UPDATE builds
		SET current_checkpoint = $1, status = $2, end_time = $3, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6
	`

	res, err := s.getExecutor(tx).ExecContext(ctx, query,
		update.CurrentCheckpoint, update.Status, update.EndTime, update.UpdatedAt,
		update.ID, update.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update build %s: %w", update.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) CountBuildsByStatus(ctx context.Context) (map[store.BuildStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM builds GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[store.BuildStatus]int64)
	for rows.Next() {
		var status store.BuildStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
