// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, and audit logging.
//
// Middleware ordering is enforced in router.go:
//
//	Security → RateLimit → Auth → RBAC → Audit → Handler
//
// Rate limiting runs before auth so brute-force traffic is refused before any
// DB work. Auth resolves the session and derives scopes from the stored user
// row; RBAC only reads what Auth placed in the context.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/db/models"
)

// Context keys set by AuthMiddleware.
const (
	UserKey      = "user"
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
	SessionKey   = "session"
	SessionIDKey = "session_id"
	ScopesKey    = "scopes"
)

// Authenticator resolves a session token. *auth.Accounts satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

// AuthMiddleware requires a valid session token. Every request re-reads the
// session and user rows, so a revoked session or a demoted admin takes effect
// immediately.
func AuthMiddleware(accounts Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		principal, err := accounts.Authenticate(c.Request.Context(), token)
		if err != nil {
			status := apperr.HTTPStatus(err)
			if status == http.StatusInternalServerError {
				slog.Error("session authentication failed", "error", err)
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error": apperr.PublicMessage(err),
			})
			return
		}

		c.Set(UserKey, principal.User)
		c.Set(UserIDKey, principal.User.ID)
		c.Set(UserEmailKey, principal.User.Email)
		c.Set(SessionKey, principal.Session)
		c.Set(SessionIDKey, principal.Session.ID)
		c.Set(ScopesKey, principal.Scopes)
		c.Set("auth_method", "session")

		c.Next()
	}
}

// UserEmail returns the authenticated caller's email.
func UserEmail(c *gin.Context) string {
	return c.GetString(UserEmailKey)
}

// CurrentUser returns the authenticated caller, or nil outside AuthMiddleware.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// CurrentSession returns the session that authenticated the request.
func CurrentSession(c *gin.Context) *models.Session {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*models.Session)
	return sess
}

// UserID returns the authenticated caller's id.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
