package models

import "time"

// Session is the server-side record behind a session token.
type Session struct {
	ID             string
	UserID         string
	LoginAt        time.Time
	LastActivityAt time.Time
	RevokedAt      *time.Time
	IPAddress      *string
	UserAgent      *string
}
