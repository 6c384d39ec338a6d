// Package models defines the database model types for agentdesk.
// Types scanned by sqlx carry db tags; the rest are scanned column by column in their repositories.
package models

import "time"

// User represents a registered account. Email is the single identity field
// and is matched exactly as stored.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	IsAdmin       bool      `json:"is_admin"`
	AccessKeyUsed *string   `json:"access_key_used,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
