// session_reaper.go implements the SessionReaper background job. Expired and revoked
// sessions are rejected at authentication time; the reaper only deletes rows that
// have been dead for longer than the retention window.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentdesk/agentdesk/internal/telemetry"
)

// SessionStore is the subset of the session repository used by the reaper.
type SessionStore interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionReaper periodically deletes stale session rows.
type SessionReaper struct {
	sessions  SessionStore
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	stopChan  chan struct{}
}

// NewSessionReaper creates a reaper. Defaults: hourly, seven days of retention.
func NewSessionReaper(sessions SessionStore, interval time.Duration, retentionDays int) *SessionReaper {
	if interval <= 0 {
		interval = time.Hour
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &SessionReaper{
		sessions:  sessions,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start runs immediately and then on every interval until ctx is cancelled
// or Stop is called.
func (r *SessionReaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("session reaper started", "interval", r.interval.String(), "retention", r.retention.String())
	r.reap(ctx)

	for {
		select {
		case <-ticker.C:
			r.reap(ctx)
		case <-r.stopChan:
			slog.Info("session reaper stopped")
			return
		case <-ctx.Done():
			slog.Info("session reaper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (r *SessionReaper) Stop() {
	close(r.stopChan)
}

func (r *SessionReaper) reap(ctx context.Context) int64 {
	cutoff := r.now().Add(-r.retention)
	n, err := r.sessions.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("session reap failed", "error", err)
		return 0
	}
	if n > 0 {
		telemetry.SessionsReapedTotal.Add(float64(n))
		slog.Info("stale sessions deleted", "count", n)
	}
	return n
}
