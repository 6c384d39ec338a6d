package models

import (
	"database/sql"
	"time"
)

// SystemConfig is one admin-managed key/value entry. IsSensitive governs
// masking in listings.
type SystemConfig struct {
	Key         string         `db:"key" json:"key"`
	Value       string         `db:"value" json:"value"`
	Description sql.NullString `db:"description" json:"-"`
	IsSensitive bool           `db:"is_sensitive" json:"is_sensitive"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// SystemSettings holds global system settings (singleton)
type SystemSettings struct {
	ID             int            `db:"id" json:"id"`
	SetupCompleted bool           `db:"setup_completed" json:"setup_completed"`
	SetupTokenHash sql.NullString `db:"setup_token_hash" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
