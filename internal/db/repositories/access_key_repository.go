package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/google/uuid"
)

// AccessKeyRepository handles single-use registration keys
type AccessKeyRepository struct {
	db *sql.DB
}

// NewAccessKeyRepository creates a new AccessKeyRepository
func NewAccessKeyRepository(db *sql.DB) *AccessKeyRepository {
	return &AccessKeyRepository{db: db}
}

const accessKeyColumns = `id, key_value, is_used, used_by, created_at, used_at`

// The predicate on is_used makes the reservation a compare-and-swap: of any
// number of concurrent callers exactly one sees a returned row.
const reserveAccessKeyQuery = `
	UPDATE access_keys
	SET is_used = true, used_by = $2, used_at = $3
	WHERE key_value = $1 AND is_used = false
	RETURNING ` + accessKeyColumns

func scanAccessKey(row interface{ Scan(...interface{}) error }) (*models.AccessKey, error) {
	key := &models.AccessKey{}
	err := row.Scan(
		&key.ID,
		&key.KeyValue,
		&key.IsUsed,
		&key.UsedBy,
		&key.CreatedAt,
		&key.UsedAt,
	)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func reserveAccessKey(ctx context.Context, q dbtx, keyValue, email string, now time.Time) (*models.AccessKey, error) {
	key, err := scanAccessKey(q.QueryRowContext(ctx, reserveAccessKeyQuery, keyValue, email, now))
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM access_keys WHERE key_value = $1)`, keyValue).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, &apperr.KeyError{Kind: apperr.KeyAlreadyUsed}
	}
	return nil, &apperr.KeyError{Kind: apperr.KeyNotFound}
}

// ValidateAndReserve atomically marks an unused key as used by email.
// It returns a *apperr.KeyError when the key is unknown or already consumed.
func (r *AccessKeyRepository) ValidateAndReserve(ctx context.Context, keyValue, email string) (*models.AccessKey, error) {
	return reserveAccessKey(ctx, r.db, keyValue, email, time.Now())
}

// CreateAccessKey stores a new unused key
func (r *AccessKeyRepository) CreateAccessKey(ctx context.Context, keyValue string) (*models.AccessKey, error) {
	key := &models.AccessKey{
		ID:        uuid.New().String(),
		KeyValue:  keyValue,
		CreatedAt: time.Now(),
	}

	query := `INSERT INTO access_keys (id, key_value, is_used, created_at) VALUES ($1, $2, false, $3)`
	_, err := r.db.ExecContext(ctx, query, key.ID, key.KeyValue, key.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("access key %s: %w", keyValue, apperr.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// ListAccessKeys returns all keys newest first
func (r *AccessKeyRepository) ListAccessKeys(ctx context.Context) ([]*models.AccessKey, error) {
	query := `SELECT ` + accessKeyColumns + ` FROM access_keys ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.AccessKey, 0)
	for rows.Next() {
		key, err := scanAccessKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetStats counts total and used keys
func (r *AccessKeyRepository) GetStats(ctx context.Context) (*models.AccessKeyStats, error) {
	stats := &models.AccessKeyStats{}
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_used) FROM access_keys`
	if err := r.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Used); err != nil {
		return nil, err
	}
	stats.Available = stats.Total - stats.Used
	return stats, nil
}

// DeleteAccessKey removes a key by ID. It reports whether a row was deleted.
func (r *AccessKeyRepository) DeleteAccessKey(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM access_keys WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
