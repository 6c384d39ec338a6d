// agents.go implements the agent directory and the admin agent CRUD.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/agents"
	"github.com/agentdesk/agentdesk/internal/auth"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/middleware"
)

// AgentRegistry is the agent service behind AgentHandlers. *agents.Registry satisfies it.
type AgentRegistry interface {
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context) ([]*models.Agent, error)
	Create(ctx context.Context, in agents.Input) (*models.Agent, error)
	Update(ctx context.Context, id string, in agents.Input) (*models.Agent, error)
	Delete(ctx context.Context, id string) error
	DefaultModel(ctx context.Context) string
}

// AgentHandlers serves /api/v1/agents and /api/v1/admin/agents.
type AgentHandlers struct {
	registry AgentRegistry
}

// NewAgentHandlers creates a new AgentHandlers instance
func NewAgentHandlers(registry AgentRegistry) *AgentHandlers {
	return &AgentHandlers{registry: registry}
}

// agentSummary is what chat users see: the binding and instructions stay
// server-side.
type agentSummary struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Avatar       *string             `json:"avatar,omitempty"`
	Model        string              `json:"model"`
	CustomFields models.CustomFields `json:"custom_fields"`
}

func summarize(a *models.Agent) agentSummary {
	return agentSummary{
		ID:           a.ID,
		Name:         a.Name,
		Description:  a.Description,
		Avatar:       a.Avatar,
		Model:        a.Model,
		CustomFields: a.CustomFields,
	}
}

func canManageAgents(c *gin.Context) bool {
	scopes, _ := c.Get(middleware.ScopesKey)
	list, _ := scopes.([]string)
	return auth.HasScope(list, auth.ScopeAgentsManage)
}

// @Summary      List agents
// @Description  Lists agents, oldest first. Callers with agents:manage receive the full definition.
// @Tags         Agents
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "agents"
// @Failure      500  {object}  map[string]interface{}
// @Router       /api/v1/agents [get]
func (h *AgentHandlers) ListAgents(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to list agents", err)
		return
	}

	if canManageAgents(c) {
		c.JSON(http.StatusOK, gin.H{"agents": list})
		return
	}
	out := make([]agentSummary, 0, len(list))
	for _, a := range list {
		out = append(out, summarize(a))
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// @Summary      Get agent
// @Tags         Agents
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Agent ID"
// @Success      200  {object}  models.Agent
// @Failure      400  {object}  map[string]interface{}  "Invalid agent ID"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/agents/{id} [get]
func (h *AgentHandlers) GetAgent(c *gin.Context) {
	id, ok := pathID(c, "Invalid agent ID")
	if !ok {
		return
	}

	agent, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, "Failed to get agent", err)
		return
	}
	if canManageAgents(c) {
		c.JSON(http.StatusOK, agent)
		return
	}
	c.JSON(http.StatusOK, summarize(agent))
}

// @Summary      List models
// @Description  Returns the model catalog offered in the agent editor and the model used when a definition names none.
// @Tags         Agents
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "models, default"
// @Router       /api/v1/models [get]
func (h *AgentHandlers) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  agents.Models(),
		"default": h.registry.DefaultModel(c.Request.Context()),
	})
}

// @Summary      Create agent
// @Tags         Agents
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  agents.Input  true  "Agent definition"
// @Success      201  {object}  models.Agent
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/v1/admin/agents [post]
func (h *AgentHandlers) CreateAgent(c *gin.Context) {
	var in agents.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	agent, err := h.registry.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, "Failed to create agent", err)
		return
	}

	c.Set(middleware.AuditResourceIDKey, agent.ID)
	c.JSON(http.StatusCreated, agent)
}

// @Summary      Update agent
// @Description  Replaces the agent definition.
// @Tags         Agents
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string        true  "Agent ID"
// @Param        body  body  agents.Input  true  "Agent definition"
// @Success      200  {object}  models.Agent
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/admin/agents/{id} [put]
func (h *AgentHandlers) UpdateAgent(c *gin.Context) {
	id, ok := pathID(c, "Invalid agent ID")
	if !ok {
		return
	}

	var in agents.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	agent, err := h.registry.Update(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, "Failed to update agent", err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// @Summary      Delete agent
// @Tags         Agents
// @Security     Bearer
// @Param        id  path  string  true  "Agent ID"
// @Success      204
// @Failure      400  {object}  map[string]interface{}  "Invalid agent ID"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/admin/agents/{id} [delete]
func (h *AgentHandlers) DeleteAgent(c *gin.Context) {
	id, ok := pathID(c, "Invalid agent ID")
	if !ok {
		return
	}
	if err := h.registry.Delete(c.Request.Context(), id); err != nil {
		writeError(c, "Failed to delete agent", err)
		return
	}
	c.Status(http.StatusNoContent)
}
