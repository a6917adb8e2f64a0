package postgres

import (
	"context"
	"fmt"

	"buildstate/internal/store"
)

func (s *Store) CreatePrincipal(ctx context.Context, p *store.Principal, hashedKey string) error {
	query := `
		INSERT INTO principals (id, name, api_key_hash, permission, rate_limit, rate_limit_burst, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		hashedKey,
		p.Permission,
		p.RateLimit,
		p.RateLimitBurst,
		p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

func (s *Store) GetPrincipalByAPIKeyHash(ctx context.Context, hash string) (*store.Principal, error) {
	query := "SELECT id, name, permission, rate_limit, rate_limit_burst, created_at FROM principals WHERE api_key_hash = $1"

	var p store.Principal

	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&p.ID,
		&p.Name,
		&p.Permission,
		&p.RateLimit,
		&p.RateLimitBurst,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &p, nil
}
