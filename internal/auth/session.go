package auth

import (
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/db/models"
)

const (
	DefaultSessionMaxAge      = 24 * time.Hour
	DefaultSessionIdleTimeout = 2 * time.Hour
)

// SessionWindow bounds a session by total age and by inactivity. Both bounds
// are exclusive: a session exactly MaxAge old is expired.
type SessionWindow struct {
	MaxAge      time.Duration
	IdleTimeout time.Duration
}

// DefaultSessionWindow returns the 24h / 2h window.
func DefaultSessionWindow() SessionWindow {
	return SessionWindow{MaxAge: DefaultSessionMaxAge, IdleTimeout: DefaultSessionIdleTimeout}
}

// Valid reports whether s may still authenticate requests at now.
func (w SessionWindow) Valid(s *models.Session, now time.Time) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	return now.Sub(s.LoginAt) < w.MaxAge && now.Sub(s.LastActivityAt) < w.IdleTimeout
}

// Check is Valid expressed as an error.
func (w SessionWindow) Check(s *models.Session, now time.Time) error {
	if !w.Valid(s, now) {
		return &apperr.AuthError{Kind: apperr.SessionExpired}
	}
	return nil
}
