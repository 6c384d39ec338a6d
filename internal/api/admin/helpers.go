package admin

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentdesk/agentdesk/internal/apperr"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// pagination reads page/per_page, falling back to defaults for bad values.
func pagination(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return page, perPage, (page - 1) * perPage
}

// writeError maps err onto a JSON error response. Internal errors are logged
// and replaced with a generic message.
func writeError(c *gin.Context, msg string, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error(msg, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

// pathID parses the :id path parameter as a UUID. On failure it answers 400
// with msg and returns false.
func pathID(c *gin.Context, msg string) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return "", false
	}
	return id.String(), true
}
