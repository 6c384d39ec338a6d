package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Strategy is how an agent produces replies.
type Strategy string

const (
	StrategyWebhook   Strategy = "webhook"
	StrategyAssistant Strategy = "assistant"
	StrategyNone      Strategy = "none"
)

// Agent is an admin-configured conversational persona.
type Agent struct {
	ID                string       `db:"id" json:"id"`
	Name              string       `db:"name" json:"name"`
	Description       string       `db:"description" json:"description"`
	Instructions      string       `db:"instructions" json:"instructions"`
	Avatar            *string      `db:"avatar" json:"avatar,omitempty"`
	Model             string       `db:"model" json:"model"`
	Temperature       float64      `db:"temperature" json:"temperature"`
	MaxTokens         int          `db:"max_tokens" json:"max_tokens"`
	WebhookURL        *string      `db:"webhook_url" json:"webhook_url,omitempty"`
	AssistantID       *string      `db:"assistant_id" json:"assistant_id,omitempty"`
	ThreadExpiryHours int          `db:"thread_expiry_hours" json:"thread_expiry_hours"`
	CustomFields      CustomFields `db:"custom_fields" json:"custom_fields"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// Strategy returns the reply strategy selected by the agent's binding.
func (a *Agent) Strategy() Strategy {
	switch {
	case a.WebhookURL != nil && *a.WebhookURL != "":
		return StrategyWebhook
	case a.AssistantID != nil && *a.AssistantID != "":
		return StrategyAssistant
	}
	return StrategyNone
}

// CustomField is an admin-defined key/label/value triple shown with the agent.
type CustomField struct {
	Key   string `json:"key" validate:"required,max=64"`
	Label string `json:"label" validate:"required,max=128"`
	Value string `json:"value" validate:"max=2048"`
}

// CustomFields is stored as a JSONB array.
type CustomFields []CustomField

// Value implements driver.Valuer.
func (c CustomFields) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *CustomFields) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = CustomFields{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("custom_fields: unsupported type %T", src)
	}
	return json.Unmarshal(data, c)
}
