package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/centsible/identity-service/internal/core/domain"
)

// PgxSessionStore implements domain.SessionStore using pgxpool.
// This is the default store; see RedisSessionStore for the alternative.
type PgxSessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PgxSessionStore.
func NewSessionStore(pool *pgxpool.Pool) *PgxSessionStore {
	return &PgxSessionStore{pool: pool}
}

// Create inserts a new session.
func (s *PgxSessionStore) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, is_impersonating, original_admin_id, impersonated_user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		session.ID, session.RealUserID, session.IsImpersonating,
		nullableID(session.OriginalAdminID), nullableID(session.ImpersonatedUserID),
		session.CreatedAt, session.ExpiresAt,
	)
	return err
}

// Get returns the session with the given id.
// Returns (nil, nil) when no session is found.
func (s *PgxSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, is_impersonating, original_admin_id, impersonated_user_id, created_at, expires_at
		FROM sessions
		WHERE id = $1
	`

	var (
		sess               domain.Session
		originalAdminID    *int
		impersonatedUserID *int
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.RealUserID, &sess.IsImpersonating,
		&originalAdminID, &impersonatedUserID,
		&sess.CreatedAt, &sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if originalAdminID != nil {
		sess.OriginalAdminID = *originalAdminID
	}
	if impersonatedUserID != nil {
		sess.ImpersonatedUserID = *impersonatedUserID
	}

	return &sess, nil
}

// SetImpersonation marks the session as impersonating. The three fields are
// written in one statement so a session can never hold a partial pair.
func (s *PgxSessionStore) SetImpersonation(ctx context.Context, id string, originalAdminID, impersonatedUserID int) error {
	query := `
		UPDATE sessions
		SET is_impersonating = TRUE, original_admin_id = $2, impersonated_user_id = $3
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, originalAdminID, impersonatedUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("session not found")
	}
	return nil
}

// ClearImpersonation resets the session to its not-impersonating shape.
func (s *PgxSessionStore) ClearImpersonation(ctx context.Context, id string) error {
	query := `
		UPDATE sessions
		SET is_impersonating = FALSE, original_admin_id = NULL, impersonated_user_id = NULL
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, id)
	return err
}

// Delete destroys the session.
func (s *PgxSessionStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	return err
}

// nullableID maps the zero id to NULL for optional foreign keys.
func nullableID(id int) *int {
	if id == 0 {
		return nil
	}
	return &id
}
