// Package conversations implements the chat endpoints: reading a transcript,
// sending a message to an agent and resetting a conversation.
package conversations

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/chat"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/middleware"
)

// Conversations runs exchanges. *chat.Orchestrator satisfies it.
type Conversations interface {
	Send(ctx context.Context, userEmail, agentID, text string) (*chat.Result, error)
	Transcript(ctx context.Context, userEmail, agentID string, limit int, before *time.Time) ([]*models.Message, error)
	Reset(ctx context.Context, userEmail, agentID string) error
}

// Handlers serves /api/v1/chat/:agent_id.
type Handlers struct {
	conversations Conversations
}

// NewHandlers creates chat handlers.
func NewHandlers(conversations Conversations) *Handlers {
	return &Handlers{conversations: conversations}
}

// SendRequest is the body of POST /api/v1/chat/:agent_id/messages.
type SendRequest struct {
	Content string `json:"content"`
}

// @Summary      List messages
// @Description  Returns the caller's transcript with an agent in ascending order. Use before to page backwards.
// @Tags         Chat
// @Security     Bearer
// @Produce      json
// @Param        agent_id  path   string  true   "Agent ID"
// @Param        limit     query  int     false  "Max messages (default 50, max 200)"
// @Param        before    query  string  false  "RFC3339 timestamp; only older messages are returned"
// @Success      200  {object}  map[string]interface{}  "messages"
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/chat/{agent_id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	agentID, ok := pathAgentID(c)
	if !ok {
		return
	}

	limit := chat.DefaultTranscriptLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, chat.MaxTranscriptLimit)
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC3339 timestamp"})
			return
		}
		before = &t
	}

	messages, err := h.conversations.Transcript(c.Request.Context(), middleware.UserEmail(c), agentID, limit, before)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// @Summary      Send a message
// @Description  Stores the message, forwards it to the agent and returns the reply. When the agent fails the reply is a fixed apology with fallback=true and is not stored.
// @Tags         Chat
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        agent_id  path  string       true  "Agent ID"
// @Param        body      body  SendRequest  true  "Message"
// @Success      200  {object}  chat.Result
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "An exchange is already in flight or the conversation was reset"
// @Router       /api/v1/chat/{agent_id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	agentID, ok := pathAgentID(c)
	if !ok {
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.conversations.Send(c.Request.Context(), middleware.UserEmail(c), agentID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Summary      Reset conversation
// @Description  Starts a fresh provider thread for the next message. The stored transcript is kept; a reply still in flight is discarded.
// @Tags         Chat
// @Security     Bearer
// @Param        agent_id  path  string  true  "Agent ID"
// @Success      204
// @Failure      400  {object}  map[string]interface{}  "Invalid agent ID"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/chat/{agent_id}/reset [post]
func (h *Handlers) ResetConversation(c *gin.Context) {
	agentID, ok := pathAgentID(c)
	if !ok {
		return
	}
	if err := h.conversations.Reset(c.Request.Context(), middleware.UserEmail(c), agentID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// pathAgentID parses :agent_id, answering 400 when it is not a UUID.
func pathAgentID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("agent_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return "", false
	}
	return id.String(), true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrExchangeInFlight), errors.Is(err, chat.ErrStaleExchange):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("chat request failed", "agent_id", c.Param("agent_id"), "error", err)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}
