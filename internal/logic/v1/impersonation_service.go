package v1

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/centsible/identity-service/internal/core/domain"
	"github.com/centsible/identity-service/middleware"
)

// ImpersonationService implements the impersonation state machine: start,
// per-request reconciliation, and stop. The session carries the live flags;
// the ledger is the durable audit trail. Every mutation writes the ledger
// first — a failed ledger write leaves the session untouched, so the state
// machine can only ever fall back to "not impersonating".
type ImpersonationService struct {
	users    domain.UserRepository
	sessions domain.SessionStore
	ledger   domain.ImpersonationRepository
	locks    keyedMutex
}

// NewImpersonationService creates a new ImpersonationService.
func NewImpersonationService(
	users domain.UserRepository,
	sessions domain.SessionStore,
	ledger domain.ImpersonationRepository,
) *ImpersonationService {
	return &ImpersonationService{
		users:    users,
		sessions: sessions,
		ledger:   ledger,
	}
}

// Start begins impersonation of targetUserID on the given session. All
// precondition failures are reported before any mutation. The ledger insert
// (which transactionally closes any stale active record for the target) runs
// before the session write; if the session write then fails, the fresh ledger
// record is closed again so no audited-but-invisible impersonation remains.
func (s *ImpersonationService) Start(ctx context.Context, sessionID string, targetUserID int) (*domain.ImpersonationResponse, error) {
	ctx, span := middleware.StartSpan(ctx, "impersonation.start", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.Int("impersonation.target_id", targetUserID),
	))
	defer span.End()

	// Serialize starts and stops on the same session so a concurrent caller
	// observes the winner's state instead of overwriting it. The ledger's
	// partial unique index remains the authoritative cross-session guard.
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query session: %w", ErrPersistenceUnavailable)
	}
	if session == nil || session.Expired(time.Now()) {
		return nil, fmt.Errorf("lookup session: %w", ErrUnauthenticated)
	}
	if session.IsImpersonating {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyImpersonating)
	}

	requester, err := s.users.GetByID(ctx, session.RealUserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query requester: %w", ErrPersistenceUnavailable)
	}
	if requester == nil || !requester.Active {
		return nil, fmt.Errorf("requester unavailable: %w", ErrUnauthenticated)
	}
	if requester.Role != domain.RoleSuperAdmin {
		return nil, fmt.Errorf("requester role %s: %w", requester.Role, ErrForbidden)
	}
	if targetUserID == requester.ID {
		return nil, fmt.Errorf("target %d: %w", targetUserID, ErrSelfImpersonation)
	}

	target, err := s.users.GetByID(ctx, targetUserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query target: %w", ErrPersistenceUnavailable)
	}
	if target == nil {
		return nil, fmt.Errorf("target %d: %w", targetUserID, ErrTargetNotFound)
	}
	if !target.Active {
		return nil, fmt.Errorf("target %d: %w", targetUserID, ErrTargetInactive)
	}
	if target.Role == domain.RoleSuperAdmin {
		return nil, fmt.Errorf("target %d is super_admin: %w", targetUserID, ErrPrivilegeEscalation)
	}

	record, err := s.ledger.Start(ctx, requester.ID, targetUserID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrImpersonationConflict) {
			// Another admin won the race for this target.
			return nil, fmt.Errorf("target %d contested: %w", targetUserID, ErrAlreadyImpersonating)
		}
		return nil, fmt.Errorf("write ledger: %w", ErrPersistenceUnavailable)
	}

	if err := s.sessions.SetImpersonation(ctx, sessionID, requester.ID, targetUserID); err != nil {
		span.RecordError(err)
		// Roll the ledger back so success is never reported without a
		// matching live session. Failure here leaves an active record that
		// the next Start for this target closes transactionally.
		if _, endErr := s.ledger.EndActiveByTarget(ctx, targetUserID, time.Now()); endErr != nil {
			zerolog.Ctx(ctx).Error().Err(endErr).
				Str("record_id", record.ID).
				Int("target_user_id", targetUserID).
				Msg("Failed to close ledger record after session write failure")
		}
		return nil, fmt.Errorf("mark session impersonating: %w", ErrPersistenceUnavailable)
	}

	span.SetAttributes(
		attribute.Int("impersonation.admin_id", requester.ID),
		attribute.String("impersonation.record_id", record.ID),
	)
	span.AddEvent("impersonation.started")
	zerolog.Ctx(ctx).Info().
		Int("admin_id", requester.ID).
		Int("target_user_id", targetUserID).
		Str("record_id", record.ID).
		Msg("Impersonation started")

	return &domain.ImpersonationResponse{
		ImpersonatedUser: target.Profile(),
		OriginalAdmin:    requester.Profile(),
	}, nil
}

// Reconcile validates an impersonating session against live user records and
// substitutes the acting identity. It never writes the ledger. On drift the
// session's impersonation fields are cleared and the request fails — the
// request is never silently downgraded to the admin's own identity.
func (s *ImpersonationService) Reconcile(ctx context.Context, session *domain.Session) (*AuthContext, error) {
	ctx, span := middleware.StartSpan(ctx, "impersonation.reconcile", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	admin, err := s.users.GetByID(ctx, session.OriginalAdminID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query original admin: %w", ErrPersistenceUnavailable)
	}
	target, err := s.users.GetByID(ctx, session.ImpersonatedUserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query impersonated user: %w", ErrPersistenceUnavailable)
	}

	if admin == nil || target == nil || admin.Role != domain.RoleSuperAdmin || !target.Active {
		span.AddEvent("impersonation.invalidated")
		zerolog.Ctx(ctx).Warn().
			Str("session_id", session.ID).
			Int("original_admin_id", session.OriginalAdminID).
			Int("impersonated_user_id", session.ImpersonatedUserID).
			Msg("Impersonation invalidated during reconciliation")
		if clearErr := s.sessions.ClearImpersonation(ctx, session.ID); clearErr != nil {
			span.RecordError(clearErr)
			return nil, fmt.Errorf("clear invalidated session: %w", ErrPersistenceUnavailable)
		}
		return nil, fmt.Errorf("session %s: %w", session.ID, ErrImpersonationInvalidated)
	}

	span.SetAttributes(
		attribute.Int("impersonation.admin_id", admin.ID),
		attribute.Int("impersonation.target_id", target.ID),
	)
	return &AuthContext{
		Acting:        target,
		Authorizing:   admin,
		Impersonating: true,
		SessionID:     session.ID,
	}, nil
}

// Stop ends the session's impersonation. The ledger record matching the
// session's current target is closed; a missing record is logged as drift
// but never blocks clearing the session — a stuck impersonation session is
// the worse failure.
func (s *ImpersonationService) Stop(ctx context.Context, sessionID string) (*domain.ImpersonationStatus, error) {
	ctx, span := middleware.StartSpan(ctx, "impersonation.stop", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	// Fetched fresh under the lock: a stop racing a newer start must close
	// the record of the target the session points at now.
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query session: %w", ErrPersistenceUnavailable)
	}
	if session == nil || session.Expired(time.Now()) {
		return nil, fmt.Errorf("lookup session: %w", ErrUnauthenticated)
	}
	if !session.IsImpersonating {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoActiveImpersonation)
	}

	admin, err := s.users.GetByID(ctx, session.OriginalAdminID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query original admin: %w", ErrPersistenceUnavailable)
	}

	ended, err := s.ledger.EndActiveByTarget(ctx, session.ImpersonatedUserID, time.Now())
	if err != nil {
		// Clearing the session is never blocked by the ledger.
		span.RecordError(err)
		zerolog.Ctx(ctx).Error().Err(err).
			Int("target_user_id", session.ImpersonatedUserID).
			Msg("Failed to close ledger record on stop")
	} else if !ended {
		span.AddEvent("impersonation.ledger_drift")
		zerolog.Ctx(ctx).Warn().
			Str("session_id", sessionID).
			Int("target_user_id", session.ImpersonatedUserID).
			Msg("No active ledger record found on stop")
	}

	if err := s.sessions.ClearImpersonation(ctx, sessionID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("clear session impersonation: %w", ErrPersistenceUnavailable)
	}

	span.AddEvent("impersonation.stopped")
	zerolog.Ctx(ctx).Info().
		Int("admin_id", session.OriginalAdminID).
		Int("target_user_id", session.ImpersonatedUserID).
		Msg("Impersonation stopped")

	if admin == nil {
		// Session is clean; the next resolve fails closed on the dead admin.
		return nil, fmt.Errorf("original admin missing after stop: %w", ErrImpersonationInvalidated)
	}

	profile := admin.Profile()
	return &domain.ImpersonationStatus{
		IsImpersonating:  false,
		OriginalAdmin:    &profile,
		ImpersonatedUser: nil,
	}, nil
}

// keyedMutex serializes critical sections per session identifier. Entries
// are reference-counted and removed when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for the key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
