package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/centsible/identity-service/internal/core/domain"
)

// PgxAPIKeyRepository implements domain.APIKeyRepository using pgxpool.
type PgxAPIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository creates a new PgxAPIKeyRepository.
func NewAPIKeyRepository(pool *pgxpool.Pool) *PgxAPIKeyRepository {
	return &PgxAPIKeyRepository{pool: pool}
}

// GetByKey returns the key record matching the exact credential string.
// Returns (nil, nil) when no key is found.
func (r *PgxAPIKeyRepository) GetByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	query := `
		SELECT id, user_id, key, name, active, expires_at, created_at, last_used_at
		FROM api_keys
		WHERE key = $1
	`

	var k domain.APIKey
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&k.ID, &k.UserID, &k.Key, &k.Name, &k.Active,
		&k.ExpiresAt, &k.CreatedAt, &k.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &k, nil
}

// TouchLastUsed sets last_used_at to now for the given key.
func (r *PgxAPIKeyRepository) TouchLastUsed(ctx context.Context, id int) error {
	query := `UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}
