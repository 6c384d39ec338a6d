package auth

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// ThrottleState is the per-identity login throttle state.
type ThrottleState int

const (
	// ThrottleClear means no recent failures.
	ThrottleClear ThrottleState = iota
	// ThrottleWarning means some failures, below the lock threshold.
	ThrottleWarning
	// ThrottleLocked means attempts are refused until the lock expires.
	ThrottleLocked
)

func (s ThrottleState) String() string {
	switch s {
	case ThrottleWarning:
		return "warning"
	case ThrottleLocked:
		return "locked"
	}
	return "clear"
}

// ThrottleStatus describes an identity's throttle state. Failures is the
// number of consecutive failures counted so far; RetryAfter is set when locked.
type ThrottleStatus struct {
	State      ThrottleState
	Failures   int
	RetryAfter time.Duration
}

// LoginThrottle counts consecutive failed logins per identity.
// Identities are compared exactly as given.
type LoginThrottle interface {
	// Check reports the current state without changing it. An expired lock reads as Clear.
	Check(ctx context.Context, identity string) (ThrottleStatus, error)
	// RecordFailure counts one failure and locks the identity on reaching the limit.
	RecordFailure(ctx context.Context, identity string) (ThrottleStatus, error)
	// Reset clears all state for the identity, as after a successful login.
	Reset(ctx context.Context, identity string) error
}

type attemptRecord struct {
	count       int
	windowEnds  time.Time
	lockedUntil time.Time
}

// expired reports whether the record no longer affects the identity. Failures
// are forgotten one lockout window after the first of them.
func (r *attemptRecord) expired(now time.Time) bool {
	if !r.lockedUntil.IsZero() {
		return !now.Before(r.lockedUntil)
	}
	return !now.Before(r.windowEnds)
}

// MemoryThrottle is an in-process LoginThrottle for single-node deployments.
// State is lost on restart.
type MemoryThrottle struct {
	mu          sync.Mutex
	attempts    map[string]*attemptRecord
	maxAttempts int
	lockout     time.Duration
	nextPrune   time.Time
	now         func() time.Time
}

// NewMemoryThrottle creates a MemoryThrottle. Non-positive arguments take the defaults.
func NewMemoryThrottle(maxAttempts int, lockout time.Duration) *MemoryThrottle {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if lockout <= 0 {
		lockout = DefaultLockoutDuration
	}
	return &MemoryThrottle{
		attempts:    make(map[string]*attemptRecord),
		maxAttempts: maxAttempts,
		lockout:     lockout,
		now:         time.Now,
	}
}

// statusLocked expects mu held. It drops the identity's record once expired.
func (t *MemoryThrottle) statusLocked(identity string, now time.Time) ThrottleStatus {
	rec, ok := t.attempts[identity]
	if !ok {
		return ThrottleStatus{State: ThrottleClear}
	}
	if rec.expired(now) {
		delete(t.attempts, identity)
		return ThrottleStatus{State: ThrottleClear}
	}
	if !rec.lockedUntil.IsZero() {
		return ThrottleStatus{State: ThrottleLocked, Failures: rec.count, RetryAfter: rec.lockedUntil.Sub(now)}
	}
	return ThrottleStatus{State: ThrottleWarning, Failures: rec.count}
}

// pruneLocked expects mu held. It sweeps expired records at most once per
// lockout window.
func (t *MemoryThrottle) pruneLocked(now time.Time) {
	if now.Before(t.nextPrune) {
		return
	}
	for identity, rec := range t.attempts {
		if rec.expired(now) {
			delete(t.attempts, identity)
		}
	}
	t.nextPrune = now.Add(t.lockout)
}

// Check implements LoginThrottle.
func (t *MemoryThrottle) Check(_ context.Context, identity string) (ThrottleStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(identity, t.now()), nil
}

// RecordFailure implements LoginThrottle.
func (t *MemoryThrottle) RecordFailure(_ context.Context, identity string) (ThrottleStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)
	if st := t.statusLocked(identity, now); st.State == ThrottleLocked {
		return st, nil
	}
	rec, ok := t.attempts[identity]
	if !ok {
		rec = &attemptRecord{windowEnds: now.Add(t.lockout)}
		t.attempts[identity] = rec
	}
	rec.count++
	if rec.count >= t.maxAttempts {
		rec.lockedUntil = now.Add(t.lockout)
		return ThrottleStatus{State: ThrottleLocked, Failures: rec.count, RetryAfter: t.lockout}, nil
	}
	return ThrottleStatus{State: ThrottleWarning, Failures: rec.count}, nil
}

// Reset implements LoginThrottle.
func (t *MemoryThrottle) Reset(_ context.Context, identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, identity)
	return nil
}
