package postgres

import (
	"context"
	"fmt"

	"buildstate/internal/store"

	"github.com/google/uuid"
)

const variableColumns = `build_id, key, value, type, sensitive, required_for_resume,
	set_at_checkpoint, created_at, updated_at`

func scanVariable(row rowScanner) (*store.Variable, error) {
	var v store.Variable
	err := row.Scan(
		&v.BuildID, &v.Key, &v.Value, &v.Type, &v.Sensitive, &v.RequiredForResume,
		&v.SetAtCheckpoint, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpsertVariable keeps the original created_at on conflict.
func (s *Store) UpsertVariable(ctx context.Context, v *store.Variable) error {
	query := `
		INSERT INTO build_variables (` + variableColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (build_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			type = EXCLUDED.type,
			sensitive = EXCLUDED.sensitive,
			required_for_resume = EXCLUDED.required_for_resume,
			set_at_checkpoint = EXCLUDED.set_at_checkpoint,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		v.BuildID, v.Key, v.Value, v.Type, v.Sensitive, v.RequiredForResume,
		v.SetAtCheckpoint, v.CreatedAt, v.UpdatedAt,
	).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to set variable %s: %w", v.Key, err)
	}
	return nil
}

func (s *Store) GetVariable(ctx context.Context, buildID uuid.UUID, key string) (*store.Variable, error) {
	query := "SELECT " + variableColumns + " FROM build_variables WHERE build_id = $1 AND key = $2"

	v, err := scanVariable(s.db.QueryRowContext(ctx, query, buildID, key))
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func (s *Store) ListVariables(ctx context.Context, buildID uuid.UUID, requiredOnly bool) ([]store.Variable, error) {
	query := "SELECT " + variableColumns + " FROM build_variables WHERE build_id = $1"
	if requiredOnly {
		query += " AND required_for_resume = TRUE"
	}
	query += " ORDER BY key ASC"

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	defer rows.Close()

	var vars []store.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		vars = append(vars, *v)
	}
	return vars, rows.Err()
}
