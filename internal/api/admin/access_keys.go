// access_keys.go implements handlers for the single-use registration keys.
package admin

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/db/repositories"
	"github.com/agentdesk/agentdesk/internal/middleware"
)

const maxAccessKeyLength = 128

// AccessKeyHandlers handles access key management endpoints
type AccessKeyHandlers struct {
	keyRepo  *repositories.AccessKeyRepository
	generate func() (string, error)
}

// NewAccessKeyHandlers creates a new AccessKeyHandlers instance
func NewAccessKeyHandlers(db *sql.DB) *AccessKeyHandlers {
	return &AccessKeyHandlers{
		keyRepo:  repositories.NewAccessKeyRepository(db),
		generate: auth.GenerateAccessKey,
	}
}

// CreateAccessKeyRequest is the body of POST /api/v1/admin/access-keys.
// An empty KeyValue asks the server to generate one.
type CreateAccessKeyRequest struct {
	KeyValue string `json:"key_value"`
}

// @Summary      List access keys
// @Description  Lists every access key, newest first, with used/available counts. Requires access_keys:manage scope.
// @Tags         Access Keys
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "access_keys: []models.AccessKey, stats: models.AccessKeyStats"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/access-keys [get]
func (h *AccessKeyHandlers) ListAccessKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		keys, err := h.keyRepo.ListAccessKeys(ctx)
		if err != nil {
			writeError(c, "Failed to list access keys", err)
			return
		}
		stats, err := h.keyRepo.GetStats(ctx)
		if err != nil {
			writeError(c, "Failed to count access keys", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_keys": keys,
			"stats":       stats,
		})
	}
}

// @Summary      Create access key
// @Description  Stores a new unused key. When key_value is omitted a KEY-<time>-<random> value is generated.
// @Tags         Access Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateAccessKeyRequest  false  "Optional explicit key value"
// @Success      201  {object}  models.AccessKey
// @Failure      400  {object}  map[string]interface{}  "Invalid key value"
// @Failure      409  {object}  map[string]interface{}  "Key already exists"
// @Router       /api/v1/admin/access-keys [post]
func (h *AccessKeyHandlers) CreateAccessKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAccessKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		value := strings.TrimSpace(req.KeyValue)
		if value == "" {
			generated, err := h.generate()
			if err != nil {
				writeError(c, "Failed to generate access key", err)
				return
			}
			value = generated
		}
		if len(value) > maxAccessKeyLength || strings.ContainsAny(value, " \t\r\n") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key_value must be at most 128 characters without whitespace"})
			return
		}

		key, err := h.keyRepo.CreateAccessKey(c.Request.Context(), value)
		if err != nil {
			writeError(c, "Failed to create access key", err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, key.ID)
		c.JSON(http.StatusCreated, key)
	}
}

// @Summary      Delete access key
// @Tags         Access Keys
// @Security     Bearer
// @Param        id  path  string  true  "Access key ID"
// @Success      204
// @Failure      400  {object}  map[string]interface{}  "Invalid access key ID"
// @Failure      404  {object}  map[string]interface{}  "Access key not found"
// @Router       /api/v1/admin/access-keys/{id} [delete]
func (h *AccessKeyHandlers) DeleteAccessKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "Invalid access key ID")
		if !ok {
			return
		}

		deleted, err := h.keyRepo.DeleteAccessKey(c.Request.Context(), id)
		if err != nil {
			writeError(c, "Failed to delete access key", err)
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "Access key not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
