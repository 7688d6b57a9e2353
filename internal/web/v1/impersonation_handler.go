package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/centsible/identity-service/internal/core/domain"
	logicv1 "github.com/centsible/identity-service/internal/logic/v1"
	"github.com/centsible/identity-service/middleware"
)

// StartImpersonation begins impersonating the target user on the caller's
// session. Requires a super_admin session; API-key callers have no session
// and are rejected.
// POST /api/v1/impersonation/start/:targetUserId
func (h *Handler) StartImpersonation(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	logger := zerolog.Ctx(ctx)

	ac, ok := logicv1.AuthFromContext(ctx)
	if !ok || ac.SessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session required"})
		return
	}

	targetUserID, err := strconv.Atoi(c.Param("targetUserId"))
	if err != nil {
		span.SetAttributes(attribute.Bool("request.valid", false))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid target user id"})
		return
	}

	response, err := h.impersonation.Start(ctx, ac.SessionID, targetUserID)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Int("target_user_id", targetUserID).Msg("Impersonation start failed")

		switch {
		case errors.Is(err, logicv1.ErrAlreadyImpersonating):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Already impersonating"})
		case errors.Is(err, logicv1.ErrSelfImpersonation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot impersonate yourself"})
		case errors.Is(err, logicv1.ErrTargetInactive):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Target user is inactive"})
		case errors.Is(err, logicv1.ErrTargetNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Target user not found"})
		case errors.Is(err, logicv1.ErrPrivilegeEscalation):
			c.JSON(http.StatusForbidden, gin.H{"error": "Cannot impersonate a super admin"})
		case errors.Is(err, logicv1.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		case errors.Is(err, logicv1.ErrUnauthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	logger.Info().
		Int("admin_id", response.OriginalAdmin.ID).
		Int("target_user_id", response.ImpersonatedUser.ID).
		Msg("Impersonation started")
	c.JSON(http.StatusOK, response)
}

// StopImpersonation ends the caller's active impersonation.
// POST /api/v1/impersonation/stop
func (h *Handler) StopImpersonation(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	logger := zerolog.Ctx(ctx)

	ac, ok := logicv1.AuthFromContext(ctx)
	if !ok || ac.SessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session required"})
		return
	}

	status, err := h.impersonation.Stop(ctx, ac.SessionID)
	if err != nil {
		span.RecordError(err)
		logger.Warn().Err(err).Msg("Impersonation stop failed")

		switch {
		case errors.Is(err, logicv1.ErrNoActiveImpersonation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No active impersonation"})
		case errors.Is(err, logicv1.ErrImpersonationInvalidated):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Impersonation invalidated"})
		case errors.Is(err, logicv1.ErrUnauthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	logger.Info().Msg("Impersonation stopped")
	c.JSON(http.StatusOK, status)
}

// ImpersonationStatus reports whether the session is impersonating and, if
// so, both identities. The AuthContext was already reconciled by RequireAuth.
// GET /api/v1/impersonation/status
func (h *Handler) ImpersonationStatus(c *gin.Context) {
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

	status := domain.ImpersonationStatus{IsImpersonating: ac.Impersonating}
	if ac.Impersonating {
		admin := ac.Authorizing.Profile()
		target := ac.Acting.Profile()
		status.OriginalAdmin = &admin
		status.ImpersonatedUser = &target
	}

	c.JSON(http.StatusOK, status)
}
