// config.go implements the admin key/value configuration endpoints.
package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/middleware"
	"github.com/agentdesk/agentdesk/internal/sysconfig"
)

// ConfigStore is the configuration service behind ConfigHandlers. *sysconfig.Store satisfies it.
type ConfigStore interface {
	Get(ctx context.Context, key string) (*sysconfig.Entry, error)
	Set(ctx context.Context, key, value string, description *string, sensitive *bool) (*sysconfig.Entry, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, reveal bool) ([]sysconfig.Entry, error)
}

// ConfigHandlers serves /api/v1/admin/config.
type ConfigHandlers struct {
	store ConfigStore
}

// NewConfigHandlers creates a new ConfigHandlers instance
func NewConfigHandlers(store ConfigStore) *ConfigHandlers {
	return &ConfigHandlers{store: store}
}

// SetConfigRequest is the body of PUT /api/v1/admin/config/:key.
type SetConfigRequest struct {
	Value       *string `json:"value" binding:"required"`
	Description *string `json:"description"`
	IsSensitive *bool   `json:"is_sensitive"`
}

// wantsReveal reports whether the request asked for clear sensitive values
// and the caller may see them.
func wantsReveal(c *gin.Context) bool {
	reveal, _ := strconv.ParseBool(c.Query("reveal"))
	if !reveal {
		return false
	}
	scopes, _ := c.Get(middleware.ScopesKey)
	list, _ := scopes.([]string)
	return auth.HasScope(list, auth.ScopeConfigManage)
}

func masked(e *sysconfig.Entry) *sysconfig.Entry {
	if e.IsSensitive {
		e.Value = sysconfig.Mask
		e.Masked = true
	}
	return e
}

// @Summary      List configuration
// @Description  Lists every entry ordered by key. Sensitive values are masked unless reveal=true is sent by a caller with config:manage.
// @Tags         Configuration
// @Security     Bearer
// @Produce      json
// @Param        reveal  query  bool  false  "Return sensitive values in clear"
// @Success      200  {object}  map[string]interface{}  "config: []sysconfig.Entry"
// @Failure      500  {object}  map[string]interface{}
// @Router       /api/v1/admin/config [get]
func (h *ConfigHandlers) ListConfig(c *gin.Context) {
	entries, err := h.store.List(c.Request.Context(), wantsReveal(c))
	if err != nil {
		writeError(c, "Failed to list configuration", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": entries})
}

// @Summary      Get configuration entry
// @Tags         Configuration
// @Security     Bearer
// @Produce      json
// @Param        key     path   string  true   "Key"
// @Param        reveal  query  bool    false  "Return a sensitive value in clear"
// @Success      200  {object}  sysconfig.Entry
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/admin/config/{key} [get]
func (h *ConfigHandlers) GetConfig(c *gin.Context) {
	entry, err := h.store.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, "Failed to read configuration", err)
		return
	}
	if !wantsReveal(c) {
		entry = masked(entry)
	}
	c.JSON(http.StatusOK, entry)
}

// @Summary      Set configuration entry
// @Description  Creates or replaces an entry. Omitted description or is_sensitive keep their stored values.
// @Tags         Configuration
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        key   path  string            true  "Key"
// @Param        body  body  SetConfigRequest  true  "Entry"
// @Success      200  {object}  sysconfig.Entry
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/v1/admin/config/{key} [put]
func (h *ConfigHandlers) SetConfig(c *gin.Context) {
	var req SetConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}

	entry, err := h.store.Set(c.Request.Context(), c.Param("key"), *req.Value, req.Description, req.IsSensitive)
	if err != nil {
		writeError(c, "Failed to save configuration", err)
		return
	}
	c.JSON(http.StatusOK, masked(entry))
}

// @Summary      Delete configuration entry
// @Tags         Configuration
// @Security     Bearer
// @Param        key  path  string  true  "Key"
// @Success      204
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/admin/config/{key} [delete]
func (h *ConfigHandlers) DeleteConfig(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("key")); err != nil {
		writeError(c, "Failed to delete configuration", err)
		return
	}
	c.Status(http.StatusNoContent)
}
