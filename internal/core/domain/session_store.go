package domain

import (
	"context"
	"time"
)

// Session is server-held state keyed by the opaque identifier presented in
// the session cookie. RealUserID is the logged-in user. The three
// impersonation fields are set and cleared together: IsImpersonating is true
// iff OriginalAdminID and ImpersonatedUserID are both present.
type Session struct {
	ID                 string    `json:"id"`
	RealUserID         int       `json:"real_user_id"`
	IsImpersonating    bool      `json:"is_impersonating"`
	OriginalAdminID    int       `json:"original_admin_id"`
	ImpersonatedUserID int       `json:"impersonated_user_id"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionStore defines the data-access contract for session state.
// Two implementations exist (postgres, redis); the Logic layer never knows
// which one is wired.
type SessionStore interface {
	// Create inserts a new session.
	Create(ctx context.Context, session *Session) error

	// Get returns the session with the given id.
	// Returns (nil, nil) when no session is found.
	Get(ctx context.Context, id string) (*Session, error)

	// SetImpersonation marks the session as impersonating, recording both
	// the original admin and the impersonated user.
	SetImpersonation(ctx context.Context, id string, originalAdminID, impersonatedUserID int) error

	// ClearImpersonation resets the session to its not-impersonating shape.
	ClearImpersonation(ctx context.Context, id string) error

	// Delete destroys the session.
	Delete(ctx context.Context, id string) error
}
