package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/auth"
)

// RequireScope rejects the request with 403 unless the scopes AuthMiddleware
// derived for the caller satisfy scope. It must run after AuthMiddleware.
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted, _ := c.Get(ScopesKey)
		scopes, ok := granted.([]string)
		if !ok || !auth.HasScope(scopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":          "insufficient permissions",
				"required_scope": string(scope),
			})
			return
		}
		c.Next()
	}
}
