// users.go implements the read-only user listing for administrators.
package admin

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/db/repositories"
)

// userLister is the subset of UserRepository used here.
type userLister interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
}

// UserHandlers handles user management endpoints
type UserHandlers struct {
	userRepo userLister
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(db *sql.DB) *UserHandlers {
	return &UserHandlers{userRepo: repositories.NewUserRepository(db)}
}

// @Summary      List users
// @Description  Get a paginated list of registered users, newest first. Requires users:read scope.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        page      query  int  false  "Page number (default 1)"
// @Param        per_page  query  int  false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "users: []models.User, pagination: map"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/users [get]
// GET /api/v1/admin/users?page=1&per_page=20
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := pagination(c)

		users, total, err := h.userRepo.ListUsers(c.Request.Context(), perPage, offset)
		if err != nil {
			writeError(c, "Failed to list users", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
