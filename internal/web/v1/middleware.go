package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/centsible/identity-service/internal/core/domain"
	logicv1 "github.com/centsible/identity-service/internal/logic/v1"
)

// APIKeyHeader is the machine-credential channel. When present it is used
// exclusively; the session cookie is ignored.
const APIKeyHeader = "apikey"

// RequireAuth resolves the request identity through the combined resolver
// and attaches the AuthContext to the request context. Requests that cannot
// be resolved never reach the wrapped handlers.
func RequireAuth(auth *logicv1.AuthService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		sessionID := ""
		if cookie, err := c.Cookie(cookieName); err == nil {
			sessionID = cookie
		}
		apiKey := c.GetHeader(APIKeyHeader)

		ac, err := auth.Resolve(ctx, sessionID, apiKey)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Identity resolution failed")

			switch {
			case errors.Is(err, logicv1.ErrPersistenceUnavailable):
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			case errors.Is(err, logicv1.ErrImpersonationInvalidated):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Impersonation invalidated"})
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
			}
			return
		}

		c.Request = c.Request.WithContext(logicv1.ContextWithAuth(ctx, ac))
		c.Next()
	}
}

// RequireRole authorizes the request against a minimum privilege level.
// Authorization is evaluated against the authorizing identity — the original
// admin while impersonating — never the acting identity, so an admin wearing
// a user's identity still passes admin gates while business reads see the
// target user.
func RequireRole(min domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac, ok := logicv1.AuthFromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
			return
		}

		if !ac.Authorizing.Role.Meets(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		c.Next()
	}
}
