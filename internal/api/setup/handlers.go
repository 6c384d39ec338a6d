// Package setup implements HTTP handlers for first-run setup. The admin
// endpoint is authenticated via setup token (not a session) and is
// permanently disabled once the first administrator exists.
package setup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/audit"
	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/db/repositories"
	"github.com/agentdesk/agentdesk/internal/middleware"
	"github.com/agentdesk/agentdesk/internal/validation"
)

// Store is the subset of SettingsRepository used by the handlers.
type Store interface {
	IsSetupCompleted(ctx context.Context) (bool, error)
	CompleteSetupWithAdmin(ctx context.Context, admin *models.User) error
}

// Handlers holds all dependencies for setup endpoints.
type Handlers struct {
	store    Store
	recorder *audit.Recorder
}

// NewHandlers creates a new setup Handlers instance. recorder may be nil.
func NewHandlers(store Store, recorder *audit.Recorder) *Handlers {
	return &Handlers{store: store, recorder: recorder}
}

// ConfigureAdminInput is the body of POST /api/v1/setup/admin.
type ConfigureAdminInput struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Get setup status
// @Description  Reports whether the first administrator has been created. No authentication required.
// @Tags         Setup
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "setup_completed: bool"
// @Failure      500  {object}  map[string]interface{}
// @Router       /api/v1/setup/status [get]
func (h *Handlers) GetSetupStatus(c *gin.Context) {
	completed, err := h.store.IsSetupCompleted(c.Request.Context())
	if err != nil {
		slog.Error("setup: failed to read status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get setup status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"setup_completed": completed})
}

// @Summary      Validate setup token
// @Description  Lets a client check a setup token before submitting the admin form. The middleware does the actual check.
// @Tags         Setup
// @Security     SetupToken
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "valid: true"
// @Failure      401  {object}  map[string]interface{}  "Invalid setup token"
// @Failure      403  {object}  map[string]interface{}  "Setup already completed"
// @Router       /api/v1/setup/validate-token [post]
func (h *Handlers) ValidateToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// @Summary      Create first administrator
// @Description  Creates the initial admin account and completes setup in one step. Afterwards every setup endpoint answers 403.
// @Tags         Setup
// @Security     SetupToken
// @Accept       json
// @Produce      json
// @Param        body  body  ConfigureAdminInput  true  "Admin credentials"
// @Success      201  {object}  map[string]interface{}  "message, user"
// @Failure      400  {object}  map[string]interface{}  "Invalid email or weak password"
// @Failure      401  {object}  map[string]interface{}  "Invalid setup token"
// @Failure      403  {object}  map[string]interface{}  "Setup already completed"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/setup/admin [post]
func (h *Handlers) ConfigureAdmin(c *gin.Context) {
	var input ConfigureAdminInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	email := strings.TrimSpace(input.Email)
	if err := validation.ValidateEmail(email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidatePassword(input.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		slog.Error("setup: failed to hash admin password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create admin user"})
		return
	}

	user := &models.User{Email: email, PasswordHash: hash}
	err = h.store.CompleteSetupWithAdmin(c.Request.Context(), user)
	switch {
	case errors.Is(err, repositories.ErrSetupAlreadyCompleted):
		c.JSON(http.StatusForbidden, gin.H{"error": "setup has already been completed"})
		return
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "a user with this email already exists"})
		return
	case err != nil:
		slog.Error("setup: failed to create admin user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create admin user"})
		return
	}

	slog.Info("setup: initial setup completed", "admin_id", user.ID)
	h.recorder.Record(&audit.LogEntry{
		Action:       "setup.complete",
		UserID:       user.ID,
		ResourceType: "user",
		ResourceID:   user.ID,
		IPAddress:    c.ClientIP(),
		RequestID:    middleware.RequestID(c),
		StatusCode:   http.StatusCreated,
	})

	c.JSON(http.StatusCreated, gin.H{
		"message": "Setup completed. Log in with the administrator credentials.",
		"user":    user,
	})
}
