package domain

import (
	"context"
	"errors"
	"time"
)

// ErrImpersonationConflict is returned by Start when a concurrent start for
// the same target won the race (the partial unique index rejected the insert).
var ErrImpersonationConflict = errors.New("active impersonation record already exists for target")

// ImpersonationRecord is the durable audit trail of one impersonation,
// independent of the live session. At most one record per target may be
// active at any time; the schema enforces this with a partial unique index.
type ImpersonationRecord struct {
	ID           string
	SuperAdminID int
	TargetUserID int
	StartedAt    time.Time
	EndedAt      *time.Time
	Active       bool
}

// ImpersonationRepository defines the persistence contract for the
// impersonation ledger.
type ImpersonationRepository interface {
	// Start closes any still-active record for the target and inserts a new
	// active record, both inside one transaction. The close is defensive:
	// it heals records orphaned by a session that was lost mid-start.
	Start(ctx context.Context, superAdminID, targetUserID int) (*ImpersonationRecord, error)

	// EndActiveByTarget marks the active record for the target as ended.
	// Returns false when no active record existed (ledger/session drift).
	EndActiveByTarget(ctx context.Context, targetUserID int, endedAt time.Time) (bool, error)

	// FindActiveByTarget returns the active record for the target.
	// Returns (nil, nil) when none exists.
	FindActiveByTarget(ctx context.Context, targetUserID int) (*ImpersonationRecord, error)
}
