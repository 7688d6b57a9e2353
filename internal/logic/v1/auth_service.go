package v1

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/centsible/identity-service/internal/core/domain"
	"github.com/centsible/identity-service/middleware"
)

// AuthService implements credential verification and identity resolution.
// It depends on repository interfaces (injected via constructor) and
// MUST NOT access the database or SQL directly.
type AuthService struct {
	users      domain.UserRepository
	apiKeys    domain.APIKeyRepository
	sessions   domain.SessionStore
	guard      *ImpersonationService
	sessionTTL time.Duration
}

// NewAuthService creates a new AuthService with the given dependencies.
// guard handles the impersonation reconciliation for sessions that carry
// impersonation state.
func NewAuthService(
	users domain.UserRepository,
	apiKeys domain.APIKeyRepository,
	sessions domain.SessionStore,
	guard *ImpersonationService,
	sessionTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:      users,
		apiKeys:    apiKeys,
		sessions:   sessions,
		guard:      guard,
		sessionTTL: sessionTTL,
	}
}

// Login verifies credentials and creates a new session. The returned session
// id goes into the cookie; the response body carries the public profile only.
func (s *AuthService) Login(ctx context.Context, req domain.LoginRequest) (*domain.AuthResponse, *domain.Session, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.login", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("query user by email: %w", ErrPersistenceUnavailable)
	}
	if user == nil {
		span.SetAttributes(attribute.Bool("auth.success", false))
		span.AddEvent("authentication.failed")
		return nil, nil, fmt.Errorf("authenticate user: %w", ErrInvalidCredentials)
	}

	// The candidate password is never logged or attached to the span.
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		span.SetAttributes(attribute.Bool("auth.success", false))
		span.AddEvent("authentication.failed")
		return nil, nil, fmt.Errorf("authenticate user: %w", ErrInvalidCredentials)
	}

	// Deactivated accounts fail like a bad password; existence is not revealed.
	if !user.Active {
		span.SetAttributes(attribute.Bool("auth.success", false))
		return nil, nil, fmt.Errorf("authenticate inactive user: %w", ErrInvalidCredentials)
	}

	// Update last_login timestamp (best-effort, don't fail login)
	if updateErr := s.users.UpdateLastLogin(ctx, user.ID); updateErr != nil {
		span.RecordError(fmt.Errorf("update last_login: %w", updateErr))
	}

	session := &domain.Session{
		ID:         uuid.NewString(),
		RealUserID: user.ID,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("create session: %w", ErrPersistenceUnavailable)
	}

	span.SetAttributes(
		attribute.Int("user.id", user.ID),
		attribute.Bool("auth.success", true),
	)
	span.AddEvent("user.authenticated")

	return &domain.AuthResponse{User: user.Profile()}, session, nil
}

// Register creates a new user-role account and logs it in.
func (s *AuthService) Register(ctx context.Context, req domain.RegisterRequest) (*domain.AuthResponse, *domain.Session, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.register", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	exists, err := s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("check existing user: %w", ErrPersistenceUnavailable)
	}
	if exists {
		span.SetAttributes(attribute.Bool("registration.success", false))
		return nil, nil, fmt.Errorf("register user: %w", ErrUserExists)
	}

	userID, err := s.users.Create(ctx, req.Email, string(passwordHash), domain.RoleUser)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("insert user: %w", ErrPersistenceUnavailable)
	}

	session := &domain.Session{
		ID:         uuid.NewString(),
		RealUserID: userID,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("create session: %w", ErrPersistenceUnavailable)
	}

	span.SetAttributes(
		attribute.Int("user.id", userID),
		attribute.Bool("registration.success", true),
	)
	span.AddEvent("user.registered")

	resp := &domain.AuthResponse{User: domain.Profile{ID: userID, Email: req.Email, Role: domain.RoleUser}}
	return resp, session, nil
}

// Logout destroys the session. Unknown sessions are not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	ctx, span := middleware.StartSpan(ctx, "auth.logout", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete session: %w", ErrPersistenceUnavailable)
	}
	return nil
}

// Resolve picks exactly one credential channel per request: when an API key
// is presented it is used exclusively and any session is ignored. This
// dispatch order is fixed — API-key requests are never subject to
// impersonation.
func (s *AuthService) Resolve(ctx context.Context, sessionID, apiKey string) (*AuthContext, error) {
	if apiKey != "" {
		return s.ResolveAPIKey(ctx, apiKey)
	}
	return s.ResolveSession(ctx, sessionID)
}

// ResolveSession turns a session identifier into a resolved identity.
// Sessions flagged as impersonating are handed to the impersonation guard,
// which reconciles them against live user records before substituting the
// acting identity.
func (s *AuthService) ResolveSession(ctx context.Context, sessionID string) (*AuthContext, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.resolve_session", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if sessionID == "" {
		return nil, fmt.Errorf("no session cookie: %w", ErrUnauthenticated)
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query session: %w", ErrPersistenceUnavailable)
	}
	if session == nil {
		return nil, fmt.Errorf("lookup session: %w", ErrUnauthenticated)
	}
	if session.Expired(time.Now()) {
		// Best-effort cleanup; an expired session is unauthenticated either way.
		if delErr := s.sessions.Delete(ctx, sessionID); delErr != nil {
			span.RecordError(delErr)
		}
		return nil, fmt.Errorf("session expired: %w", ErrUnauthenticated)
	}

	if session.IsImpersonating {
		return s.guard.Reconcile(ctx, session)
	}

	if session.RealUserID == 0 {
		return nil, fmt.Errorf("session has no user: %w", ErrUnauthenticated)
	}

	user, err := s.users.GetByID(ctx, session.RealUserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query session user: %w", ErrPersistenceUnavailable)
	}
	if user == nil || !user.Active {
		// Fail closed: never leave a session pointing at a dead user.
		if delErr := s.sessions.Delete(ctx, sessionID); delErr != nil {
			span.RecordError(delErr)
		}
		return nil, fmt.Errorf("session user unavailable: %w", ErrUnauthenticated)
	}

	span.SetAttributes(attribute.Int("user.id", user.ID))
	return &AuthContext{Acting: user, Authorizing: user, SessionID: session.ID}, nil
}

// ResolveAPIKey turns a bearer credential into a resolved identity,
// independent of any session.
func (s *AuthService) ResolveAPIKey(ctx context.Context, key string) (*AuthContext, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.resolve_api_key", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	record, err := s.apiKeys.GetByKey(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query api key: %w", ErrPersistenceUnavailable)
	}
	if record == nil {
		return nil, fmt.Errorf("lookup api key: %w", ErrAPIKeyInvalid)
	}
	if !record.Active {
		return nil, fmt.Errorf("check api key: %w", ErrAPIKeyInactive)
	}
	if record.Expired(time.Now()) {
		return nil, fmt.Errorf("check api key: %w", ErrAPIKeyExpired)
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query api key user: %w", ErrPersistenceUnavailable)
	}
	if user == nil || !user.Active {
		return nil, fmt.Errorf("api key user unavailable: %w", ErrUnauthenticated)
	}

	// Best-effort usage stamp; a failed touch never fails the request.
	if touchErr := s.apiKeys.TouchLastUsed(ctx, record.ID); touchErr != nil {
		span.RecordError(touchErr)
	}

	span.SetAttributes(attribute.Int("user.id", user.ID))
	return &AuthContext{Acting: user, Authorizing: user}, nil
}
