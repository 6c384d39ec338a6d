package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Budgets
// ---------------------------------------------------------------------------

func TestRateLimitBudgets(t *testing.T) {
	tests := []struct {
		name       string
		cfg        RateLimitConfig
		rpm, burst int
	}{
		{"general", DefaultRateLimitConfig(), 200, 50},
		{"auth", AuthRateLimitConfig(), 10, 5},
		{"chat", ChatRateLimitConfig(), 20, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rpm, tt.cfg.RequestsPerMinute)
			assert.Equal(t, tt.burst, tt.cfg.BurstSize)
			assert.Equal(t, 5*time.Minute, tt.cfg.CleanupInterval)
		})
	}
}

// ---------------------------------------------------------------------------
// In-process limiter
// ---------------------------------------------------------------------------

func memoryLimiter(t *testing.T, rpm, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour})
	t.Cleanup(rl.Stop)
	return rl
}

func drain(rl *RateLimiter, key string) int {
	n := 0
	for rl.Allow(key) {
		n++
	}
	return n
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := memoryLimiter(t, 6, 3)
	assert.Equal(t, 3, drain(rl, "ip:10.1.0.1"))
	assert.False(t, rl.Allow("ip:10.1.0.1"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := memoryLimiter(t, 6, 2)
	drain(rl, "user:ana")
	assert.True(t, rl.Allow("user:ben"))
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := memoryLimiter(t, 600, 2) // 10 tokens per second
	drain(rl, "refill")

	assert.Eventually(t, func() bool { return rl.Allow("refill") }, time.Second, 20*time.Millisecond)
}

func TestRateLimiter_RemainingTokens(t *testing.T) {
	rl := memoryLimiter(t, 6, 4)
	assert.Equal(t, 4, rl.RemainingTokens("unseen"))

	rl.Allow("seen")
	rl.Allow("seen")
	assert.Equal(t, 2, rl.RemainingTokens("seen"))
}

func TestRateLimiter_TakeDenied(t *testing.T) {
	rl := memoryLimiter(t, 6, 1)
	ctx := context.Background()

	d, err := rl.Take(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = rl.Take(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestRateLimiter_CleanupEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: 10 * time.Millisecond})
	defer rl.Stop()

	rl.Allow("idle")
	rl.mu.Lock()
	rl.entries["idle"].lastUpdate = time.Now().Add(-11 * time.Minute)
	rl.mu.Unlock()

	assert.Eventually(t, func() bool {
		rl.mu.RLock()
		defer rl.mu.RUnlock()
		_, ok := rl.entries["idle"]
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Redis limiter
// ---------------------------------------------------------------------------

func redisLimiter(t *testing.T, rpm, burst int) *RedisRateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisRateLimiter(rdb, "agentdesk", "chat", RateLimitConfig{RequestsPerMinute: rpm, BurstSize: burst})
}

func TestRedisRateLimiter_BurstThenDeny(t *testing.T) {
	rl := redisLimiter(t, 1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := rl.Take(ctx, "user:ana")
		require.NoError(t, err)
		require.True(t, d.Allowed, "take %d", i+1)
	}

	d, err := rl.Take(ctx, "user:ana")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)

	other, err := rl.Take(ctx, "user:ben")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestRedisRateLimiter_Limit(t *testing.T) {
	assert.Equal(t, 42, redisLimiter(t, 42, 1).Limit())
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

func limitedRouter(limiter Limiter, userID string) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(UserIDKey, userID)
		}
	}, RateLimitMiddleware(limiter))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_AllowedHeaders(t *testing.T) {
	r := limitedRouter(memoryLimiter(t, 120, 20), "")
	w := hit(r, "10.0.0.4:1234")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitMiddleware_Denied(t *testing.T) {
	r := limitedRouter(memoryLimiter(t, 1, 1), "")

	require.Equal(t, http.StatusOK, hit(r, "10.0.0.2:1234").Code)
	w := hit(r, "10.0.0.2:1234")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	remaining, err := strconv.Atoi(w.Header().Get("X-RateLimit-Remaining"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, remaining, 0)
	assert.Contains(t, w.Body.String(), `"retry_after":60`)

	// another client still has its own budget
	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.3:1234").Code)
}

func TestRateLimitMiddleware_UserBudgetFollowsUser(t *testing.T) {
	rl := memoryLimiter(t, 1, 1)
	r := limitedRouter(rl, "user-7")

	require.Equal(t, http.StatusOK, hit(r, "10.0.0.5:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.0.6:1").Code)
}

type failingLimiter struct{}

func (failingLimiter) Take(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis: connection refused")
}

func (failingLimiter) Limit() int { return 10 }

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	assert.Equal(t, http.StatusOK, hit(limitedRouter(failingLimiter{}, ""), "10.0.0.1:1").Code)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestGetRateLimitKey(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   string
	}{
		{"authenticated", "user-123", "user:user-123"},
		{"anonymous", "", "ip:192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.RemoteAddr = "192.168.1.1:12345"
			c.Set(UserIDKey, tt.userID)
			assert.Equal(t, tt.want, getRateLimitKey(c))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(-time.Second))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}
