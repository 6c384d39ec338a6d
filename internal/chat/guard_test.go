package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*miniredis.Miniredis, *RedisGuard) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewRedisGuard(rdb, "agentdesk:", time.Minute)
}

// ---------------------------------------------------------------------------
// RedisGuard
// ---------------------------------------------------------------------------

func TestRedisGuard_SingleOwner(t *testing.T) {
	mr, g := newTestGuard(t)
	ctx := context.Background()

	token, ok, err := g.Acquire(ctx, "ana|agent-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("agentdesk:exchange:ana|agent-1"))

	_, ok, err = g.Acquire(ctx, "ana|agent-1")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	_, ok, err = g.Acquire(ctx, "ana|agent-2")
	require.NoError(t, err)
	assert.True(t, ok, "other conversations are independent")

	require.NoError(t, g.Release(ctx, "ana|agent-1", token))
	assert.False(t, mr.Exists("agentdesk:exchange:ana|agent-1"))
}

func TestRedisGuard_ReleaseChecksOwner(t *testing.T) {
	mr, g := newTestGuard(t)
	ctx := context.Background()

	_, ok, err := g.Acquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, g.Release(ctx, "k", "someone-else"))
	assert.True(t, mr.Exists("agentdesk:exchange:k"))
}

func TestRedisGuard_ClearAndExpiry(t *testing.T) {
	mr, g := newTestGuard(t)
	ctx := context.Background()

	_, _, err := g.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, g.Clear(ctx, "k"))
	_, ok, err := g.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = g.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "guard should expire after its TTL")
}

func TestGuardTTLFor(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{0, DefaultGuardTTL},
		{30 * time.Second, DefaultGuardTTL},
		{DefaultExchangeTimeout, DefaultGuardTTL},
		{5 * time.Minute, 5*time.Minute + 30*time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.timeout.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, GuardTTLFor(tt.timeout))
		})
	}
}

func TestRedisGuard_OutlivesLongExchange(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	g := NewRedisGuard(rdb, "agentdesk:", GuardTTLFor(5*time.Minute))
	ctx := context.Background()

	_, ok, err := g.Acquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(5 * time.Minute)
	_, ok, err = g.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "guard must still be held when the exchange deadline passes")
}

func TestRedisGuard_Unavailable(t *testing.T) {
	mr, g := newTestGuard(t)
	mr.Close()
	_, _, err := g.Acquire(context.Background(), "k")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Orchestrator with RedisGuard
// ---------------------------------------------------------------------------

func TestSend_HeldByOtherInstance(t *testing.T) {
	_, g := newTestGuard(t)
	h := newHarness(g)

	_, ok, err := g.Acquire(context.Background(), conversationKey("ana@example.com", webhookAgent.ID))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.o.Send(context.Background(), "ana@example.com", webhookAgent.ID, "hi")
	assert.ErrorIs(t, err, ErrExchangeInFlight)
	assert.Empty(t, h.messages.stored)
}

func TestSend_ReleasesGuard(t *testing.T) {
	mr, g := newTestGuard(t)
	h := newHarness(g)

	_, err := h.o.Send(context.Background(), "ana@example.com", webhookAgent.ID, "hi")
	require.NoError(t, err)
	assert.False(t, mr.Exists("agentdesk:exchange:"+conversationKey("ana@example.com", webhookAgent.ID)))
}

// ---------------------------------------------------------------------------
// tracker
// ---------------------------------------------------------------------------

func TestTracker(t *testing.T) {
	tr := newTracker()

	gen, err := tr.begin("k")
	require.NoError(t, err)
	assert.Equal(t, Sending, tr.phase("k"))
	_, err = tr.begin("k")
	assert.ErrorIs(t, err, ErrExchangeInFlight)

	tr.advance("k", gen)
	assert.Equal(t, AwaitingReply, tr.phase("k"))
	assert.True(t, tr.current("k", gen))

	tr.reset("k")
	assert.False(t, tr.current("k", gen))
	assert.Equal(t, Idle, tr.phase("k"))

	// A stale finish leaves the reset conversation alone.
	newGen, err := tr.begin("k")
	require.NoError(t, err)
	assert.Greater(t, newGen, gen)
	assert.False(t, tr.current("k", gen))
	tr.finish("k", gen)
	assert.Equal(t, Sending, tr.phase("k"))
	tr.finish("k", newGen)
	assert.Equal(t, Idle, tr.phase("k"))
	assert.Empty(t, tr.convs)
}

func TestTracker_IdleConversationsNotRetained(t *testing.T) {
	tr := newTracker()
	for i := 0; i < 1000; i++ {
		tr.reset(fmt.Sprintf("user-%d|agent", i))
	}
	assert.Empty(t, tr.convs)

	gen, err := tr.begin("user-1|agent")
	require.NoError(t, err)
	tr.finish("user-1|agent", gen)
	assert.Empty(t, tr.convs)
}

func TestTracker_GenerationsAreProcessWide(t *testing.T) {
	tr := newTracker()
	a, err := tr.begin("ana|agent")
	require.NoError(t, err)
	b, err := tr.begin("bob|agent")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	tr.reset("ana|agent")
	tr.finish("ana|agent", a)
	again, err := tr.begin("ana|agent")
	require.NoError(t, err)
	assert.False(t, tr.current("ana|agent", a), "an orphaned exchange never matches a later one")
	assert.True(t, tr.current("ana|agent", again))
	assert.True(t, tr.current("bob|agent", b))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "sending", Sending.String())
	assert.Equal(t, "awaiting_reply", AwaitingReply.String())
}
