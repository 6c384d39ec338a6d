package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/google/uuid"
)

// MessageRepository appends and pages through conversation transcripts
type MessageRepository struct {
	db  *sql.DB
	sql sq.StatementBuilderType
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var messageColumns = []string{
	"id", "user_email", "agent_id", "thread_id", "content",
	"is_from_user", "provider_message_id", "created_at",
}

// CreateMessage appends one message. ID and CreatedAt are assigned here.
func (r *MessageRepository) CreateMessage(ctx context.Context, m *models.Message) error {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now()

	q := r.sql.Insert("messages").
		Columns(messageColumns...).
		Values(m.ID, m.UserEmail, m.AgentID, m.ThreadID, m.Content, m.IsFromUser, m.ProviderMessageID, m.CreatedAt)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert message query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// ListConversation returns up to limit messages of one (user, agent)
// conversation in transcript order. When before is set only older messages
// are returned, which pages backwards through long transcripts.
func (r *MessageRepository) ListConversation(ctx context.Context, userEmail, agentID string, limit int, before *time.Time) ([]*models.Message, error) {
	q := r.sql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"user_email": userEmail, "agent_id": agentID})
	if before != nil {
		q = q.Where(sq.Lt{"created_at": *before})
	}
	q = q.OrderBy("created_at DESC", "id DESC").Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(
			&m.ID,
			&m.UserEmail,
			&m.AgentID,
			&m.ThreadID,
			&m.Content,
			&m.IsFromUser,
			&m.ProviderMessageID,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; transcripts read oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
