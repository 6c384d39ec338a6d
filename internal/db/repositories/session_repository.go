package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/google/uuid"
)

// SessionRepository stores the server-side state behind session tokens
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession inserts a session with LoginAt and LastActivityAt set to now
func (r *SessionRepository) CreateSession(ctx context.Context, s *models.Session) error {
	now := time.Now()
	s.ID = uuid.New().String()
	s.LoginAt = now
	s.LastActivityAt = now

	query := `
		INSERT INTO sessions (id, user_id, login_at, last_activity_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.LoginAt, s.LastActivityAt, s.IPAddress, s.UserAgent)
	return err
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, user_id, login_at, last_activity_at, revoked_at, ip_address, user_agent
		FROM sessions
		WHERE id = $1
	`
	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.UserID,
		&s.LoginAt,
		&s.LastActivityAt,
		&s.RevokedAt,
		&s.IPAddress,
		&s.UserAgent,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// TouchSession records activity on a live session
func (r *SessionRepository) TouchSession(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sessions SET last_activity_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, id, at)
	return err
}

// RevokeSession marks a session as logged out
func (r *SessionRepository) RevokeSession(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, id, at)
	return err
}

// DeleteSessionsBefore removes sessions whose last activity or revocation is
// older than cutoff and returns how many were removed.
func (r *SessionRepository) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE last_activity_at < $1 OR revoked_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
