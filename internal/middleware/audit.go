// audit.go records admin mutations (agents, access keys, configuration, users)
// through audit.Recorder, which writes the audit_logs row and ships the entry.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/audit"
	"github.com/agentdesk/agentdesk/internal/config"
)

// AuditResourceIDKey lets a handler name the affected resource when the route
// has no id parameter, e.g. the id of a newly created agent.
const AuditResourceIDKey = "audit_resource_id"

// resourceTypes maps the first path segment after the admin prefix to the
// resource type stored in audit_logs.
var resourceTypes = map[string]string{
	"agents":      "agent",
	"access-keys": "access_key",
	"config":      "config",
	"users":       "user",
}

// AuditMiddleware records every successful write under the group it is
// attached to. Reads are never recorded; failed writes are recorded only when
// cfg.LogFailedRequests is set. A nil cfg records with defaults.
func AuditMiddleware(recorder *audit.Recorder, cfg *config.AuditConfig) gin.HandlerFunc {
	if cfg != nil && !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	logFailed := cfg != nil && cfg.LogFailedRequests

	return func(c *gin.Context) {
		c.Next()

		verb := actionVerb(c.Request.Method)
		if verb == "" {
			return
		}
		status := c.Writer.Status()
		if status >= http.StatusBadRequest && !logFailed {
			return
		}

		route := c.FullPath()
		resourceType := resourceTypeFor(route)
		action := c.Request.Method + " " + route
		if resourceType != "" {
			action = resourceType + "." + verb
		}

		metadata := map[string]interface{}{
			"method": c.Request.Method,
			"route":  route,
		}
		if am := c.GetString("auth_method"); am != "" {
			metadata["auth_method"] = am
		}

		recorder.Record(&audit.LogEntry{
			Action:       action,
			UserID:       UserID(c),
			ResourceType: resourceType,
			ResourceID:   resourceIDFor(c),
			IPAddress:    c.ClientIP(),
			RequestID:    RequestID(c),
			StatusCode:   status,
			Metadata:     metadata,
		})
	}
}

func actionVerb(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return ""
}

// resourceTypeFor extracts the resource from a route template such as
// /api/v1/admin/access-keys/:id.
func resourceTypeFor(route string) string {
	_, rest, ok := strings.Cut(route, "/admin/")
	if !ok {
		return ""
	}
	segment, _, _ := strings.Cut(rest, "/")
	return resourceTypes[segment]
}

func resourceIDFor(c *gin.Context) string {
	if id := c.GetString(AuditResourceIDKey); id != "" {
		return id
	}
	if id := c.Param("id"); id != "" {
		return id
	}
	return c.Param("key")
}
