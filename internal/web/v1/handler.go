package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/centsible/identity-service/internal/core/domain"
	logicv1 "github.com/centsible/identity-service/internal/logic/v1"
	"github.com/centsible/identity-service/middleware"
)

// Handler groups HTTP handlers for the identity API v1.
// Dependencies are injected via the constructor — no global state.
type Handler struct {
	auth          *logicv1.AuthService
	impersonation *logicv1.ImpersonationService
	cookieName    string
	cookieSecure  bool
}

// NewHandler creates a new Handler.
func NewHandler(auth *logicv1.AuthService, impersonation *logicv1.ImpersonationService, cookieName string, cookieSecure bool) *Handler {
	return &Handler{
		auth:          auth,
		impersonation: impersonation,
		cookieName:    cookieName,
		cookieSecure:  cookieSecure,
	}
}

// RegisterRoutes registers all identity API v1 routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/login", h.Login)
	rg.POST("/auth/register", h.Register)
	rg.POST("/auth/logout", h.Logout)

	authed := rg.Group("", RequireAuth(h.auth, h.cookieName))
	authed.GET("/auth/verify", h.Verify)
	authed.GET("/impersonation/status", h.ImpersonationStatus)
	authed.POST("/impersonation/stop", h.StopImpersonation)
	authed.POST("/impersonation/start/:targetUserId",
		RequireRole(domain.RoleSuperAdmin), h.StartImpersonation)
}

// setSessionCookie writes the opaque session identifier. HttpOnly keeps it
// out of script reach; SameSite=Lax limits CSRF exposure.
func (h *Handler) setSessionCookie(c *gin.Context, session *domain.Session) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Login handles HTTP request for user login.
func (h *Handler) Login(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	logger := zerolog.Ctx(ctx)

	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		logger.Error().Err(err).Msg("Invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.Bool("request.valid", true))

	response, session, err := h.auth.Login(ctx, req)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Msg("Login failed")

		switch {
		case errors.Is(err, logicv1.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	h.setSessionCookie(c, session)
	logger.Info().Int("user_id", response.User.ID).Msg("Login successful")
	c.JSON(http.StatusOK, response)
}

// Register handles HTTP request for user registration.
func (h *Handler) Register(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	logger := zerolog.Ctx(ctx)

	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		span.RecordError(err)
		logger.Error().Err(err).Msg("Invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.Bool("request.valid", true))

	response, session, err := h.auth.Register(ctx, req)
	if err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Msg("Registration failed")

		switch {
		case errors.Is(err, logicv1.ErrUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Email already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	h.setSessionCookie(c, session)
	logger.Info().Int("user_id", response.User.ID).Msg("Registration successful")
	c.JSON(http.StatusCreated, response)
}

// Logout destroys the session referenced by the cookie.
func (h *Handler) Logout(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	if sessionID, err := c.Cookie(h.cookieName); err == nil && sessionID != "" {
		if err := h.auth.Logout(ctx, sessionID); err != nil {
			span.RecordError(err)
			zerolog.Ctx(ctx).Error().Err(err).Msg("Logout failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// Verify returns the acting identity of an authenticated request.
// GET /api/v1/auth/verify
func (h *Handler) Verify(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	ac, ok := logicv1.AuthFromContext(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		return
	}

	span.SetAttributes(attribute.Int("user.id", ac.Acting.ID))
	c.JSON(http.StatusOK, domain.AuthResponse{User: ac.Acting.Profile()})
}
