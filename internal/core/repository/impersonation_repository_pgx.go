package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/centsible/identity-service/internal/core/domain"
)

// pgUniqueViolation is the Postgres error code for unique_violation.
const pgUniqueViolation = "23505"

// PgxImpersonationRepository implements domain.ImpersonationRepository using
// pgxpool. The at-most-one-active-per-target invariant is enforced by a
// partial unique index on (target_user_id) WHERE active.
type PgxImpersonationRepository struct {
	pool *pgxpool.Pool
}

// NewImpersonationRepository creates a new PgxImpersonationRepository.
func NewImpersonationRepository(pool *pgxpool.Pool) *PgxImpersonationRepository {
	return &PgxImpersonationRepository{pool: pool}
}

// Start closes any still-active record for the target and inserts a new
// active record, both inside one transaction.
func (r *PgxImpersonationRepository) Start(ctx context.Context, superAdminID, targetUserID int) (*domain.ImpersonationRecord, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin impersonation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Defensive close: heals records orphaned by a session lost mid-start.
	closeStale := `
		UPDATE impersonation_records
		SET active = FALSE, ended_at = CURRENT_TIMESTAMP
		WHERE target_user_id = $1 AND active = TRUE
	`
	if _, err := tx.Exec(ctx, closeStale, targetUserID); err != nil {
		return nil, fmt.Errorf("close stale impersonation records: %w", err)
	}

	record := &domain.ImpersonationRecord{
		ID:           uuid.NewString(),
		SuperAdminID: superAdminID,
		TargetUserID: targetUserID,
		Active:       true,
	}

	insert := `
		INSERT INTO impersonation_records (id, super_admin_id, target_user_id, active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING started_at
	`
	err = tx.QueryRow(ctx, insert, record.ID, record.SuperAdminID, record.TargetUserID).Scan(&record.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.ErrImpersonationConflict
		}
		return nil, fmt.Errorf("insert impersonation record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.ErrImpersonationConflict
		}
		return nil, fmt.Errorf("commit impersonation tx: %w", err)
	}

	return record, nil
}

// EndActiveByTarget marks the active record for the target as ended.
// Returns false when no active record existed.
func (r *PgxImpersonationRepository) EndActiveByTarget(ctx context.Context, targetUserID int, endedAt time.Time) (bool, error) {
	query := `
		UPDATE impersonation_records
		SET active = FALSE, ended_at = $2
		WHERE target_user_id = $1 AND active = TRUE
	`
	tag, err := r.pool.Exec(ctx, query, targetUserID, endedAt)
	if err != nil {
		return false, fmt.Errorf("end active impersonation record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindActiveByTarget returns the active record for the target.
// Returns (nil, nil) when none exists.
func (r *PgxImpersonationRepository) FindActiveByTarget(ctx context.Context, targetUserID int) (*domain.ImpersonationRecord, error) {
	query := `
		SELECT id, super_admin_id, target_user_id, started_at, ended_at, active
		FROM impersonation_records
		WHERE target_user_id = $1 AND active = TRUE
	`

	var rec domain.ImpersonationRecord
	err := r.pool.QueryRow(ctx, query, targetUserID).Scan(
		&rec.ID, &rec.SuperAdminID, &rec.TargetUserID,
		&rec.StartedAt, &rec.EndedAt, &rec.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &rec, nil
}
