package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/jmoiron/sqlx"
)

// ErrSetupAlreadyCompleted is returned when a second caller races to finish setup.
var ErrSetupAlreadyCompleted = errors.New("setup already completed")

// SettingsRepository handles the singleton system_settings row
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetSystemSettings retrieves the singleton settings record
func (r *SettingsRepository) GetSystemSettings(ctx context.Context) (*models.SystemSettings, error) {
	var settings models.SystemSettings
	err := r.db.GetContext(ctx, &settings, `SELECT * FROM system_settings WHERE id = 1`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// IsSetupCompleted checks if the first admin has been created
func (r *SettingsRepository) IsSetupCompleted(ctx context.Context) (bool, error) {
	var completed bool
	err := r.db.GetContext(ctx, &completed, `SELECT setup_completed FROM system_settings WHERE id = 1`)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return completed, err
}

// GetSetupTokenHash retrieves the bcrypt hash of the setup token
func (r *SettingsRepository) GetSetupTokenHash(ctx context.Context) (string, error) {
	var hash sql.NullString
	err := r.db.GetContext(ctx, &hash, `SELECT setup_token_hash FROM system_settings WHERE id = 1`)
	if err != nil {
		return "", err
	}
	if !hash.Valid {
		return "", nil
	}
	return hash.String, nil
}

// SetSetupTokenHash stores the bcrypt hash of the setup token
func (r *SettingsRepository) SetSetupTokenHash(ctx context.Context, hash string) error {
	query := `
		UPDATE system_settings SET
			setup_token_hash = $1,
			updated_at = $2
		WHERE id = 1`
	_, err := r.db.ExecContext(ctx, query, hash, time.Now())
	return err
}

// CompleteSetupWithAdmin creates the first admin user and closes setup in one
// transaction. Only one caller can flip setup_completed; later callers get
// ErrSetupAlreadyCompleted and no user is created.
func (r *SettingsRepository) CompleteSetupWithAdmin(ctx context.Context, admin *models.User) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	query := `
		UPDATE system_settings SET
			setup_completed = true,
			setup_token_hash = NULL,
			updated_at = $1
		WHERE id = 1 AND NOT setup_completed`
	result, err := tx.ExecContext(ctx, query, time.Now())
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSetupAlreadyCompleted
	}

	admin.IsAdmin = true
	if err := insertUser(ctx, tx, admin); err != nil {
		return err
	}
	return tx.Commit()
}
