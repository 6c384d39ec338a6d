package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/audit"
	"github.com/agentdesk/agentdesk/internal/config"
)

// captureShipper collects audit log entries via a buffered channel.
type captureShipper struct {
	ch chan *audit.LogEntry
}

func newCaptureShipper(buf int) *captureShipper {
	return &captureShipper{ch: make(chan *audit.LogEntry, buf)}
}

func (s *captureShipper) Ship(_ context.Context, e *audit.LogEntry) error {
	s.ch <- e
	return nil
}

func (s *captureShipper) Close() error { return nil }

// waitForEntry blocks until an entry arrives or the timeout fires.
func (s *captureShipper) waitForEntry(t *testing.T, timeout time.Duration) *audit.LogEntry {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for audit log entry")
		return nil
	}
}

func (s *captureShipper) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-s.ch:
		t.Errorf("unexpected audit entry %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

// newAuditRouter mounts the admin routes behind AuditMiddleware with a fake
// authenticated caller.
func newAuditRouter(cs *captureShipper, cfg *config.AuditConfig, status int) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	admin := r.Group("/api/v1/admin", func(c *gin.Context) {
		c.Set(UserIDKey, "admin-1")
		c.Set("auth_method", "session")
		c.Next()
	}, AuditMiddleware(audit.NewRecorder(nil, cs), cfg))

	h := func(c *gin.Context) { c.Status(status) }
	admin.GET("/agents", h)
	admin.POST("/agents", func(c *gin.Context) {
		c.Set(AuditResourceIDKey, "agent-new")
		c.Status(status)
	})
	admin.PUT("/agents/:id", h)
	admin.DELETE("/access-keys/:id", h)
	admin.PUT("/config/:key", h)
	admin.OPTIONS("/agents", h)
	return r
}

func serveAudit(r *gin.Engine, method, path string) {
	req, _ := http.NewRequest(method, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(httptest.NewRecorder(), req)
}

// ---------------------------------------------------------------------------
// AuditMiddleware
// ---------------------------------------------------------------------------

func TestAuditMiddleware_ActionsAndResources(t *testing.T) {
	tests := []struct {
		method       string
		path         string
		wantAction   string
		wantResource string
		wantID       string
	}{
		{http.MethodPost, "/api/v1/admin/agents", "agent.create", "agent", "agent-new"},
		{http.MethodPut, "/api/v1/admin/agents/a-1", "agent.update", "agent", "a-1"},
		{http.MethodDelete, "/api/v1/admin/access-keys/k-9", "access_key.delete", "access_key", "k-9"},
		{http.MethodPut, "/api/v1/admin/config/openai_api_key", "config.update", "config", "openai_api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.wantAction, func(t *testing.T) {
			cs := newCaptureShipper(1)
			serveAudit(newAuditRouter(cs, nil, http.StatusOK), tt.method, tt.path)

			entry := cs.waitForEntry(t, time.Second)
			if entry.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", entry.Action, tt.wantAction)
			}
			if entry.ResourceType != tt.wantResource || entry.ResourceID != tt.wantID {
				t.Errorf("resource = %s/%s, want %s/%s", entry.ResourceType, entry.ResourceID, tt.wantResource, tt.wantID)
			}
			if entry.UserID != "admin-1" || entry.IPAddress != "10.0.0.1" || entry.RequestID == "" {
				t.Errorf("entry = %+v", entry)
			}
			if entry.Metadata["auth_method"] != "session" {
				t.Errorf("metadata = %v", entry.Metadata)
			}
		})
	}
}

func TestAuditMiddleware_ReadsAndOptionsSkipped(t *testing.T) {
	cs := newCaptureShipper(2)
	r := newAuditRouter(cs, nil, http.StatusOK)
	serveAudit(r, http.MethodGet, "/api/v1/admin/agents")
	serveAudit(r, http.MethodOptions, "/api/v1/admin/agents")
	cs.expectNone(t)
}

func TestAuditMiddleware_FailedWriteSkippedByDefault(t *testing.T) {
	cs := newCaptureShipper(1)
	serveAudit(newAuditRouter(cs, nil, http.StatusBadRequest), http.MethodPost, "/api/v1/admin/agents")
	cs.expectNone(t)
}

func TestAuditMiddleware_FailedWriteLoggedWhenConfigured(t *testing.T) {
	cs := newCaptureShipper(1)
	cfg := &config.AuditConfig{Enabled: true, LogFailedRequests: true}
	serveAudit(newAuditRouter(cs, cfg, http.StatusForbidden), http.MethodDelete, "/api/v1/admin/access-keys/k-1")

	entry := cs.waitForEntry(t, time.Second)
	if entry.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", entry.StatusCode)
	}
}

func TestAuditMiddleware_Disabled(t *testing.T) {
	cs := newCaptureShipper(1)
	serveAudit(newAuditRouter(cs, &config.AuditConfig{Enabled: false}, http.StatusOK), http.MethodPost, "/api/v1/admin/agents")
	cs.expectNone(t)
}

func TestAuditMiddleware_NilRecorder_NoPanic(t *testing.T) {
	r := gin.New()
	r.Use(AuditMiddleware(nil, nil))
	r.POST("/api/v1/admin/agents", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/admin/agents", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestResourceTypeFor(t *testing.T) {
	tests := map[string]string{
		"/api/v1/admin/agents/:id":     "agent",
		"/api/v1/admin/access-keys":    "access_key",
		"/api/v1/admin/config/:key":    "config",
		"/api/v1/admin/users":          "user",
		"/api/v1/admin/audit-logs":     "",
		"/api/v1/chat/:agent_id/reset": "",
	}
	for route, want := range tests {
		if got := resourceTypeFor(route); got != want {
			t.Errorf("resourceTypeFor(%q) = %q, want %q", route, got, want)
		}
	}
}
