// thread_expiry_sweeper.go implements the ThreadExpirySweeper background job, which
// periodically retires conversation threads whose lifetime has ended. Lookups already
// ignore expired rows, so the sweep only keeps the active-thread index small and
// makes expiry visible to reporting queries; it is safe to run on every instance.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentdesk/agentdesk/internal/telemetry"
)

// ThreadStore is the subset of the thread repository used by the sweeper.
type ThreadStore interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// ThreadExpirySweeper periodically deactivates expired threads.
type ThreadExpirySweeper struct {
	threads  ThreadStore
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewThreadExpirySweeper creates a sweeper. A non-positive interval defaults to 10 minutes.
func NewThreadExpirySweeper(threads ThreadStore, interval time.Duration) *ThreadExpirySweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ThreadExpirySweeper{
		threads:  threads,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (s *ThreadExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("thread expiry sweeper started", "interval", s.interval.String())
	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("thread expiry sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("thread expiry sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *ThreadExpirySweeper) Stop() {
	close(s.stopChan)
}

func (s *ThreadExpirySweeper) sweep(ctx context.Context) int64 {
	n, err := s.threads.DeactivateExpired(ctx, s.now())
	if err != nil {
		slog.Error("thread expiry sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		telemetry.ThreadsExpiredTotal.Add(float64(n))
		slog.Info("expired threads deactivated", "count", n)
	}
	return n
}
