// Package v1 provides identity-resolution and impersonation business logic
// for API version 1.
//
// Error Handling:
// This package defines sentinel errors that represent authentication and
// impersonation failures. These errors should be wrapped with context using
// fmt.Errorf("%w") when returned from business logic methods.
//
// Error Checking (in handlers):
//
//	switch {
//	case errors.Is(err, logicv1.ErrUnauthenticated):
//	    c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
//	case errors.Is(err, logicv1.ErrForbidden):
//	    c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
//	default:
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
//	}
package v1

import "errors"

// Sentinel errors for identity resolution and impersonation.
// These errors should be wrapped with context using fmt.Errorf("%w") when returned.
var (
	// ErrInvalidCredentials indicates the provided credentials are incorrect.
	// HTTP Status: 401 Unauthorized
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserExists indicates the email already exists in the system.
	// HTTP Status: 409 Conflict
	ErrUserExists = errors.New("user already exists")

	// ErrUnauthenticated indicates no valid session or API key accompanied
	// the request.
	// HTTP Status: 401 Unauthorized
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates the authorizing identity lacks the required role.
	// HTTP Status: 403 Forbidden
	ErrForbidden = errors.New("forbidden")

	// ErrAPIKeyInvalid indicates the presented API key does not exist.
	// HTTP Status: 401 Unauthorized
	ErrAPIKeyInvalid = errors.New("api key invalid")

	// ErrAPIKeyInactive indicates the API key record is flagged disabled.
	// HTTP Status: 401 Unauthorized
	ErrAPIKeyInactive = errors.New("api key inactive")

	// ErrAPIKeyExpired indicates the API key is past its expiry timestamp.
	// HTTP Status: 401 Unauthorized
	ErrAPIKeyExpired = errors.New("api key expired")

	// ErrAlreadyImpersonating indicates the session already has an active
	// impersonation; it must be stopped before a new one starts.
	// HTTP Status: 400 Bad Request
	ErrAlreadyImpersonating = errors.New("already impersonating")

	// ErrSelfImpersonation indicates the caller targeted their own account.
	// HTTP Status: 400 Bad Request
	ErrSelfImpersonation = errors.New("self impersonation denied")

	// ErrPrivilegeEscalation indicates the target is a super_admin, which may
	// never be impersonated.
	// HTTP Status: 403 Forbidden
	ErrPrivilegeEscalation = errors.New("privilege escalation denied")

	// ErrTargetNotFound indicates the impersonation target does not exist.
	// HTTP Status: 404 Not Found
	ErrTargetNotFound = errors.New("target user not found")

	// ErrTargetInactive indicates the impersonation target is deactivated.
	// HTTP Status: 400 Bad Request
	ErrTargetInactive = errors.New("target user inactive")

	// ErrNoActiveImpersonation indicates stop was called on a session that is
	// not impersonating.
	// HTTP Status: 400 Bad Request
	ErrNoActiveImpersonation = errors.New("no active impersonation")

	// ErrImpersonationInvalidated indicates reconciliation detected drift
	// between the session and the live user records; the session's
	// impersonation fields have been cleared as a recovery side effect.
	// HTTP Status: 401 Unauthorized
	ErrImpersonationInvalidated = errors.New("impersonation invalidated")

	// ErrPersistenceUnavailable indicates the ledger or user store failed.
	// No partial state mutation is left behind.
	// HTTP Status: 500 Internal Server Error
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)
