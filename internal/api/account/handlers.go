// Package account implements the credential endpoints: access-key
// registration, login, logout, heartbeat and the current-user lookup.
package account

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/audit"
	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/middleware"
)

// Accounts is the credential service behind the handlers. *auth.Accounts satisfies it.
type Accounts interface {
	Register(ctx context.Context, email, password, accessKey string) (*models.User, error)
	Login(ctx context.Context, email, password string, client auth.ClientInfo) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
}

// Handlers serves /api/v1/auth.
type Handlers struct {
	cfg      *config.Config
	accounts Accounts
	recorder *audit.Recorder
	window   auth.SessionWindow
}

// NewHandlers creates account handlers. recorder may be nil.
func NewHandlers(cfg *config.Config, accounts Accounts, recorder *audit.Recorder) *Handlers {
	window := auth.DefaultSessionWindow()
	if cfg.Auth.SessionMaxAge > 0 {
		window.MaxAge = cfg.Auth.SessionMaxAge
	}
	if cfg.Auth.SessionIdleTimeout > 0 {
		window.IdleTimeout = cfg.Auth.SessionIdleTimeout
	}
	return &Handlers{cfg: cfg, accounts: accounts, recorder: recorder, window: window}
}

// RegisterRequest is the body of POST /api/v1/auth/register.
type RegisterRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	AccessKey string `json:"access_key" binding:"required"`
}

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Register with an access key
// @Description  Creates an account. The access key is consumed atomically with the user insert.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "Registration"
// @Success      201  {object}  models.User
// @Failure      400  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Registration disabled"
// @Failure      404  {object}  map[string]interface{}  "Access key not found"
// @Failure      409  {object}  map[string]interface{}  "Access key used or email taken"
// @Router       /api/v1/auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	if !h.cfg.Auth.AllowRegistration {
		c.JSON(http.StatusForbidden, gin.H{"error": "registration is disabled"})
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email, password and access_key are required"})
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password, req.AccessKey)
	if err != nil {
		writeError(c, err)
		return
	}

	h.recorder.Record(&audit.LogEntry{
		Action:       "auth.register",
		UserID:       user.ID,
		ResourceType: "user",
		ResourceID:   user.ID,
		IPAddress:    c.ClientIP(),
		RequestID:    middleware.RequestID(c),
		StatusCode:   http.StatusCreated,
	})

	c.JSON(http.StatusCreated, user)
}

// @Summary      Log in
// @Description  Verifies credentials and opens a session. Repeated failures lock the email for a while.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "token, expires_at, user"
// @Failure      401  {object}  map[string]interface{}
// @Failure      429  {object}  map[string]interface{}  "error, retry_after"
// @Router       /api/v1/auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	client := auth.ClientInfo{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	result, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password, client)
	if err != nil {
		h.recorder.Record(&audit.LogEntry{
			Action:     "auth.login_failed",
			IPAddress:  client.IPAddress,
			RequestID:  middleware.RequestID(c),
			StatusCode: apperr.HTTPStatus(err),
			Metadata:   map[string]interface{}{"email": req.Email, "reason": apperr.PublicMessage(err)},
		})
		writeError(c, err)
		return
	}

	h.recorder.Record(&audit.LogEntry{
		Action:       "auth.login",
		UserID:       result.User.ID,
		ResourceType: "session",
		ResourceID:   result.Session.ID,
		IPAddress:    client.IPAddress,
		RequestID:    middleware.RequestID(c),
		StatusCode:   http.StatusOK,
	})

	c.JSON(http.StatusOK, gin.H{
		"token":      result.Token,
		"expires_at": result.ExpiresAt.UTC().Format(time.RFC3339),
		"user":       result.User,
	})
}

// @Summary      Log out
// @Description  Revokes the current session.
// @Tags         Authentication
// @Security     Bearer
// @Success      204
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/v1/auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	sessionID := c.GetString(middleware.SessionIDKey)
	if err := h.accounts.Logout(c.Request.Context(), sessionID); err != nil {
		writeError(c, err)
		return
	}

	h.recorder.Record(&audit.LogEntry{
		Action:       "auth.logout",
		UserID:       middleware.UserID(c),
		ResourceType: "session",
		ResourceID:   sessionID,
		IPAddress:    c.ClientIP(),
		RequestID:    middleware.RequestID(c),
		StatusCode:   http.StatusNoContent,
	})

	c.Status(http.StatusNoContent)
}

// @Summary      Session heartbeat
// @Description  Confirms the session is alive. Authentication itself refreshes the activity time.
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "active, last_activity_at, expires_at"
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/v1/auth/heartbeat [post]
func (h *Handlers) Heartbeat(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":           true,
		"last_activity_at": sess.LastActivityAt.UTC().Format(time.RFC3339),
		"expires_at":       h.expiresAt(sess).UTC().Format(time.RFC3339),
	})
}

// expiresAt is the earlier of the absolute and idle deadlines.
func (h *Handlers) expiresAt(s *models.Session) time.Time {
	absolute := s.LoginAt.Add(h.window.MaxAge)
	idle := s.LastActivityAt.Add(h.window.IdleTimeout)
	if idle.Before(absolute) {
		return idle
	}
	return absolute
}

// @Summary      Current user
// @Description  Returns the authenticated user and the scopes derived for this request.
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "id, email, is_admin, scopes"
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/v1/auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	scopes, _ := c.Get(middleware.ScopesKey)
	c.JSON(http.StatusOK, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"is_admin": user.IsAdmin,
		"scopes":   scopes,
	})
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("account request failed", "path", c.FullPath(), "error", err)
	}

	body := gin.H{"error": apperr.PublicMessage(err)}
	if ae, ok := apperr.AsAuth(err); ok && ae.Kind == apperr.RateLimited {
		secs := int(math.Ceil(ae.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		body["retry_after"] = secs
	}
	c.JSON(status, body)
}
