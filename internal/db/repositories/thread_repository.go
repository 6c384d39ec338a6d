package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ThreadRepository maps (user, agent) pairs onto provider-side threads
type ThreadRepository struct {
	db *sqlx.DB
}

// NewThreadRepository creates a new ThreadRepository
func NewThreadRepository(db *sqlx.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// GetLiveThread returns the pair's active thread if it has not expired at now
func (r *ThreadRepository) GetLiveThread(ctx context.Context, userEmail, agentID string, now time.Time) (*models.UserThread, error) {
	var thread models.UserThread
	query := `
		SELECT * FROM user_threads
		WHERE user_email = $1 AND agent_id = $2 AND is_active AND expires_at > $3`
	err := r.db.GetContext(ctx, &thread, query, userEmail, agentID, now)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// CreateActiveThread installs t as the pair's active thread. Any expired row
// still flagged active is retired in the same transaction. When a concurrent
// caller has already installed a thread, that row is returned with created
// set to false and t is not stored.
func (r *ThreadRepository) CreateActiveThread(ctx context.Context, t *models.UserThread, now time.Time) (thread *models.UserThread, created bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback() // nolint:errcheck

	retire := `
		UPDATE user_threads SET is_active = false
		WHERE user_email = $1 AND agent_id = $2 AND is_active AND expires_at <= $3`
	if _, err := tx.ExecContext(ctx, retire, t.UserEmail, t.AgentID, now); err != nil {
		return nil, false, err
	}

	t.ID = uuid.New().String()
	t.CreatedAt = now
	t.IsActive = true
	if t.CustomData == nil {
		t.CustomData = models.JSONMap{}
	}

	insert := `
		INSERT INTO user_threads (id, user_email, agent_id, thread_id, created_at, expires_at, is_active, custom_data)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		ON CONFLICT (user_email, agent_id) WHERE is_active DO NOTHING
		RETURNING *`
	var row models.UserThread
	err = tx.QueryRowxContext(ctx, insert,
		t.ID, t.UserEmail, t.AgentID, t.ThreadID, t.CreatedAt, t.ExpiresAt, t.CustomData,
	).StructScan(&row)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, sql.ErrNoRows):
		winner := `SELECT * FROM user_threads WHERE user_email = $1 AND agent_id = $2 AND is_active`
		if err := tx.GetContext(ctx, &row, winner, t.UserEmail, t.AgentID); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &row, created, nil
}

// DeactivateThread retires the pair's active thread, if any
func (r *ThreadRepository) DeactivateThread(ctx context.Context, userEmail, agentID string) (int64, error) {
	query := `UPDATE user_threads SET is_active = false WHERE user_email = $1 AND agent_id = $2 AND is_active`
	result, err := r.db.ExecContext(ctx, query, userEmail, agentID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeactivateExpired retires every active thread whose expiry is at or before now
func (r *ThreadRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE user_threads SET is_active = false WHERE is_active AND expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
