package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/jmoiron/sqlx"
)

// SystemConfigRepository handles the admin key/value configuration table
type SystemConfigRepository struct {
	db *sqlx.DB
}

// NewSystemConfigRepository creates a new SystemConfigRepository
func NewSystemConfigRepository(db *sqlx.DB) *SystemConfigRepository {
	return &SystemConfigRepository{db: db}
}

// GetConfig retrieves one entry by key
func (r *SystemConfigRepository) GetConfig(ctx context.Context, key string) (*models.SystemConfig, error) {
	var cfg models.SystemConfig
	err := r.db.GetContext(ctx, &cfg, `SELECT * FROM system_config WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertConfig writes value under key. A nil description or sensitive flag
// keeps the stored one (or the column default on insert).
func (r *SystemConfigRepository) UpsertConfig(ctx context.Context, key, value string, description *string, sensitive *bool) (*models.SystemConfig, error) {
	query := `
		INSERT INTO system_config (key, value, description, is_sensitive, updated_at)
		VALUES ($1, $2, $3, COALESCE($4::boolean, false), $5)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			description = COALESCE($3, system_config.description),
			is_sensitive = COALESCE($4::boolean, system_config.is_sensitive),
			updated_at = EXCLUDED.updated_at
		RETURNING *`

	var cfg models.SystemConfig
	if err := r.db.GetContext(ctx, &cfg, query, key, value, description, sensitive, time.Now()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DeleteConfig removes an entry. It reports whether the key existed.
func (r *SystemConfigRepository) DeleteConfig(ctx context.Context, key string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM system_config WHERE key = $1`, key)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ListConfig returns all entries ordered by key
func (r *SystemConfigRepository) ListConfig(ctx context.Context) ([]*models.SystemConfig, error) {
	configs := make([]*models.SystemConfig, 0)
	err := r.db.SelectContext(ctx, &configs, `SELECT * FROM system_config ORDER BY key`)
	return configs, err
}
