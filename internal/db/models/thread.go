package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UserThread maps a (user, agent) conversation onto a provider-side thread.
// At most one row per pair is active and unexpired.
type UserThread struct {
	ID         string    `db:"id" json:"id"`
	UserEmail  string    `db:"user_email" json:"user_email"`
	AgentID    string    `db:"agent_id" json:"agent_id"`
	ThreadID   string    `db:"thread_id" json:"thread_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CustomData JSONMap   `db:"custom_data" json:"custom_data,omitempty"`
}

// Live reports whether the thread can still carry messages at now.
func (t *UserThread) Live(now time.Time) bool {
	return t.IsActive && t.ExpiresAt.After(now)
}

// JSONMap is a free-form JSONB object.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("custom_data: unsupported type %T", src)
}
