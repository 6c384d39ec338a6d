package models

import "time"

// Message is one append-only transcript entry.
type Message struct {
	ID                string    `json:"id"`
	UserEmail         string    `json:"user_email"`
	AgentID           string    `json:"agent_id"`
	ThreadID          *string   `json:"thread_id,omitempty"`
	Content           string    `json:"content"`
	IsFromUser        bool      `json:"is_from_user"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
