package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AgentRepository handles agent definitions
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository creates a new AgentRepository
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// CreateAgent inserts an agent. ID and timestamps are assigned here.
func (r *AgentRepository) CreateAgent(ctx context.Context, a *models.Agent) error {
	now := time.Now()
	a.ID = uuid.New().String()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
		INSERT INTO agents (
			id, name, description, instructions, avatar, model, temperature, max_tokens,
			webhook_url, assistant_id, thread_expiry_hours, custom_fields, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Description, a.Instructions, a.Avatar, a.Model, a.Temperature, a.MaxTokens,
		a.WebhookURL, a.AssistantID, a.ThreadExpiryHours, a.CustomFields, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// UpdateAgent overwrites every mutable column. It reports whether the agent existed.
func (r *AgentRepository) UpdateAgent(ctx context.Context, a *models.Agent) (bool, error) {
	a.UpdatedAt = time.Now()

	query := `
		UPDATE agents SET
			name = $2,
			description = $3,
			instructions = $4,
			avatar = $5,
			model = $6,
			temperature = $7,
			max_tokens = $8,
			webhook_url = $9,
			assistant_id = $10,
			thread_expiry_hours = $11,
			custom_fields = $12,
			updated_at = $13
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Description, a.Instructions, a.Avatar, a.Model, a.Temperature, a.MaxTokens,
		a.WebhookURL, a.AssistantID, a.ThreadExpiryHours, a.CustomFields, a.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// SetAssistantID records the provider-side assistant bound to an agent
func (r *AgentRepository) SetAssistantID(ctx context.Context, id, assistantID string) error {
	query := `UPDATE agents SET assistant_id = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, assistantID, time.Now())
	return err
}

// GetAgent retrieves an agent by ID
func (r *AgentRepository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.GetContext(ctx, &agent, `SELECT * FROM agents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents returns all agents oldest first
func (r *AgentRepository) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	agents := make([]*models.Agent, 0)
	err := r.db.SelectContext(ctx, &agents, `SELECT * FROM agents ORDER BY created_at ASC`)
	return agents, err
}

// DeleteAgent removes an agent; its threads and messages cascade.
func (r *AgentRepository) DeleteAgent(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}
