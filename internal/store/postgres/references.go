package postgres

import (
	"context"
	"fmt"

	"buildstate/internal/store"
)

var referenceTables = map[store.ReferenceKind]string{
	store.ReferencePlatform:  "platforms",
	store.ReferenceOSVersion: "os_versions",
	store.ReferenceImageType: "image_types",
}

func referenceTable(kind store.ReferenceKind) (string, error) {
	table, ok := referenceTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown reference kind %q", kind)
	}
	return table, nil
}

func (s *Store) ReferenceExists(ctx context.Context, kind store.ReferenceKind, name string) (bool, error) {
	table, err := referenceTable(kind)
	if err != nil {
		return false, err
	}

	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1)", table)
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to resolve %s %q: %w", kind, name, err)
	}
	return exists, nil
}

func (s *Store) CreateReference(ctx context.Context, kind store.ReferenceKind, name string) error {
	table, err := referenceTable(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING", table)
	if _, err := s.db.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("failed to create %s %q: %w", kind, name, err)
	}
	return nil
}
