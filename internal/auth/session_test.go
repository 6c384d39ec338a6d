package auth

import (
	"testing"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/db/models"
)

func TestSessionWindow_Valid(t *testing.T) {
	w := DefaultSessionWindow()
	login := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	revokedAt := login.Add(time.Minute)

	tests := []struct {
		name         string
		lastActivity time.Time
		revoked      *time.Time
		now          time.Time
		want         bool
	}{
		{"fresh", login, nil, login.Add(time.Minute), true},
		{"active within both windows", login.Add(22 * time.Hour), nil, login.Add(23 * time.Hour), true},
		{"idle just under 2h", login, nil, login.Add(2*time.Hour - time.Second), true},
		{"idle exactly 2h", login, nil, login.Add(2 * time.Hour), false},
		{"absolute exactly 24h", login.Add(23*time.Hour + 59*time.Minute), nil, login.Add(24 * time.Hour), false},
		{"absolute beyond 24h despite activity", login.Add(24 * time.Hour), nil, login.Add(24*time.Hour + time.Minute), false},
		{"revoked", login, &revokedAt, login.Add(2 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.Session{LoginAt: login, LastActivityAt: tt.lastActivity, RevokedAt: tt.revoked}
			if got := w.Valid(s, tt.now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionWindow_Check(t *testing.T) {
	w := DefaultSessionWindow()
	if err := w.Check(nil, time.Now()); !apperr.IsAuth(err, apperr.SessionExpired) {
		t.Errorf("Check(nil) = %v, want SessionExpired", err)
	}
	now := time.Now()
	if err := w.Check(&models.Session{LoginAt: now, LastActivityAt: now}, now); err != nil {
		t.Errorf("Check(fresh) = %v", err)
	}
}
