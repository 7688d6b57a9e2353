package v1

import (
	"context"

	"github.com/centsible/identity-service/internal/core/domain"
)

// AuthContext is the resolved identity of a request. It carries two distinct
// values: Acting is the user whose data the request operates on, Authorizing
// is the user whose privileges gate access. They differ only while a session
// is impersonating, in which case Acting is the impersonated user and
// Authorizing is the original admin. The value is constructed once per
// request by the resolver and never mutated downstream.
type AuthContext struct {
	Acting        *domain.User
	Authorizing   *domain.User
	Impersonating bool

	// SessionID is set for cookie-resolved requests only; API-key requests
	// have no session and can never impersonate.
	SessionID string
}

type authContextKey struct{}

// ContextWithAuth attaches the resolved identity to the context.
func ContextWithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthFromContext extracts the resolved identity from the context.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	if ctx == nil {
		return nil, false
	}
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok || ac == nil {
		return nil, false
	}
	return ac, true
}
