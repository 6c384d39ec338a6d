package models

import "time"

// AccessKey is a single-use registration token. IsUsed moves false to true
// exactly once, together with UsedBy and UsedAt.
type AccessKey struct {
	ID        string     `json:"id"`
	KeyValue  string     `json:"key_value"`
	IsUsed    bool       `json:"is_used"`
	UsedBy    *string    `json:"used_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// AccessKeyStats summarises the key inventory for the admin listing.
type AccessKeyStats struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Available int `json:"available"`
}
