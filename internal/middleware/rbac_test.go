package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/auth"
)

// scopeRouter stores granted (when non-nil) under ScopesKey, runs
// RequireScope(required) and answers 200 if the request got through.
func scopeRouter(required auth.Scope, granted interface{}) *gin.Engine {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		if granted != nil {
			c.Set(ScopesKey, granted)
		}
	}, RequireScope(required), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func serve(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

// ---------------------------------------------------------------------------
// RequireScope
// ---------------------------------------------------------------------------

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name     string
		required auth.Scope
		granted  interface{}
		want     int
	}{
		{"not authenticated", auth.ScopeChat, nil, http.StatusForbidden},
		{"malformed scopes", auth.ScopeChat, "chat", http.StatusForbidden},
		{"regular user on admin route", auth.ScopeAgentsManage, auth.ScopesForUser(false), http.StatusForbidden},
		{"regular user on chat route", auth.ScopeChat, auth.ScopesForUser(false), http.StatusOK},
		{"admin on any route", auth.ScopeAuditRead, auth.ScopesForUser(true), http.StatusOK},
		{"config manager reads config", auth.ScopeConfigRead, []string{"config:manage"}, http.StatusOK},
		{"config reader cannot write", auth.ScopeConfigManage, []string{"config:read"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(scopeRouter(tt.required, tt.granted)).Code)
		})
	}
}

func TestRequireScope_ForbiddenBody(t *testing.T) {
	w := serve(scopeRouter(auth.ScopeUsersRead, []string{"chat"}))
	require.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "insufficient permissions", body["error"])
	assert.Equal(t, "users:read", body["required_scope"])
}
