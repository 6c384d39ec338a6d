package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// MemoryThrottle
// ---------------------------------------------------------------------------

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemoryThrottle() (*MemoryThrottle, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	th := NewMemoryThrottle(5, 15*time.Minute)
	th.now = clock.now
	return th, clock
}

func TestMemoryThrottle_LocksOnFifthFailure(t *testing.T) {
	ctx := context.Background()
	th, _ := newTestMemoryThrottle()

	for i := 1; i <= 4; i++ {
		st, err := th.RecordFailure(ctx, "a@x.io")
		require.NoError(t, err)
		assert.Equal(t, ThrottleWarning, st.State)
		assert.Equal(t, i, st.Failures)
	}

	st, err := th.RecordFailure(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, ThrottleLocked, st.State)
	assert.Equal(t, 15*time.Minute, st.RetryAfter)

	st, err = th.Check(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, ThrottleLocked, st.State)
}

func TestMemoryThrottle_LockExpires(t *testing.T) {
	ctx := context.Background()
	th, clock := newTestMemoryThrottle()
	for i := 0; i < 5; i++ {
		_, _ = th.RecordFailure(ctx, "a@x.io")
	}

	clock.advance(14 * time.Minute)
	st, _ := th.Check(ctx, "a@x.io")
	assert.Equal(t, ThrottleLocked, st.State)
	assert.Equal(t, time.Minute, st.RetryAfter)

	clock.advance(time.Minute)
	st, _ = th.Check(ctx, "a@x.io")
	assert.Equal(t, ThrottleClear, st.State)

	st, _ = th.RecordFailure(ctx, "a@x.io")
	assert.Equal(t, 1, st.Failures, "counter restarts after lock expiry")
}

func TestMemoryThrottle_ResetAndIsolation(t *testing.T) {
	ctx := context.Background()
	th, _ := newTestMemoryThrottle()
	_, _ = th.RecordFailure(ctx, "a@x.io")
	_, _ = th.RecordFailure(ctx, "a@x.io")

	st, _ := th.Check(ctx, "A@x.io")
	assert.Equal(t, ThrottleClear, st.State, "identities are case-sensitive")

	require.NoError(t, th.Reset(ctx, "a@x.io"))
	st, _ = th.Check(ctx, "a@x.io")
	assert.Equal(t, ThrottleClear, st.State)
}

func TestMemoryThrottle_FailuresAgeOut(t *testing.T) {
	ctx := context.Background()
	th, clock := newTestMemoryThrottle()
	for i := 0; i < 4; i++ {
		_, _ = th.RecordFailure(ctx, "a@x.io")
	}

	clock.advance(14 * time.Minute)
	st, _ := th.Check(ctx, "a@x.io")
	assert.Equal(t, ThrottleWarning, st.State)
	assert.Equal(t, 4, st.Failures)

	clock.advance(time.Minute)
	st, _ = th.Check(ctx, "a@x.io")
	assert.Equal(t, ThrottleClear, st.State, "failures expire a lockout window after the first one")

	st, _ = th.RecordFailure(ctx, "a@x.io")
	assert.Equal(t, ThrottleWarning, st.State)
	assert.Equal(t, 1, st.Failures)
}

func TestMemoryThrottle_WindowStartsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	th, clock := newTestMemoryThrottle()
	_, _ = th.RecordFailure(ctx, "a@x.io")
	clock.advance(10 * time.Minute)
	_, _ = th.RecordFailure(ctx, "a@x.io")

	clock.advance(5 * time.Minute)
	st, _ := th.RecordFailure(ctx, "a@x.io")
	assert.Equal(t, 1, st.Failures, "later failures do not extend the window")
}

func TestMemoryThrottle_PrunesStaleIdentities(t *testing.T) {
	ctx := context.Background()
	th, clock := newTestMemoryThrottle()
	for _, id := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		_, _ = th.RecordFailure(ctx, id)
	}
	require.Len(t, th.attempts, 3)

	clock.advance(16 * time.Minute)
	_, _ = th.RecordFailure(ctx, "d@x.io")
	assert.Len(t, th.attempts, 1)
	assert.Contains(t, th.attempts, "d@x.io")
}

func TestThrottleState_String(t *testing.T) {
	assert.Equal(t, "clear", ThrottleClear.String())
	assert.Equal(t, "warning", ThrottleWarning.String())
	assert.Equal(t, "locked", ThrottleLocked.String())
}

// ---------------------------------------------------------------------------
// RedisThrottle
// ---------------------------------------------------------------------------

func newTestRedisThrottle(t *testing.T) (*RedisThrottle, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisThrottle(rdb, "agentdesk:", 5, 15*time.Minute), mr
}

func TestRedisThrottle_LocksOnFifthFailure(t *testing.T) {
	ctx := context.Background()
	th, mr := newTestRedisThrottle(t)

	for i := 1; i <= 4; i++ {
		st, err := th.RecordFailure(ctx, "a@x.io")
		require.NoError(t, err)
		assert.Equal(t, ThrottleWarning, st.State)
		assert.Equal(t, i, st.Failures)
	}

	st, err := th.Check(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, ThrottleWarning, st.State)
	assert.Equal(t, 4, st.Failures)

	st, err = th.RecordFailure(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, ThrottleLocked, st.State)

	assert.True(t, mr.Exists("agentdesk:login:lock:a@x.io"))
	assert.False(t, mr.Exists("agentdesk:login:fail:a@x.io"))

	st, err = th.Check(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, ThrottleLocked, st.State)
	assert.InDelta(t, (15 * time.Minute).Seconds(), st.RetryAfter.Seconds(), 1)
}

func TestRedisThrottle_LockExpires(t *testing.T) {
	ctx := context.Background()
	th, mr := newTestRedisThrottle(t)
	for i := 0; i < 5; i++ {
		_, err := th.RecordFailure(ctx, "a@x.io")
		require.NoError(t, err)
	}

	mr.FastForward(15*time.Minute + time.Second)

	st, err := th.Check(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, ThrottleClear, st.State)
}

func TestRedisThrottle_Reset(t *testing.T) {
	ctx := context.Background()
	th, mr := newTestRedisThrottle(t)
	_, err := th.RecordFailure(ctx, "a@x.io")
	require.NoError(t, err)

	require.NoError(t, th.Reset(ctx, "a@x.io"))
	assert.False(t, mr.Exists("agentdesk:login:fail:a@x.io"))

	st, err := th.Check(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, ThrottleClear, st.State)
}

func TestRedisThrottle_Unavailable(t *testing.T) {
	th, mr := newTestRedisThrottle(t)
	mr.Close()

	_, err := th.Check(context.Background(), "a@x.io")
	assert.Error(t, err)
}
