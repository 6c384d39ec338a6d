package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordFailureScript counts a failure under KEYS[1] and, on reaching
// ARGV[1] failures, sets the lock key KEYS[2] for ARGV[2] milliseconds and
// clears the counter. The counter expires ARGV[2] milliseconds after the
// first failure.
var recordFailureScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if c >= tonumber(ARGV[1]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[2])
  redis.call("DEL", KEYS[1])
end
return c
`)

// RedisThrottle is a LoginThrottle shared by every instance through Redis.
type RedisThrottle struct {
	redis       *redis.Client
	prefix      string
	maxAttempts int
	lockout     time.Duration
}

// NewRedisThrottle creates a RedisThrottle. Keys are namespaced under prefix.
func NewRedisThrottle(rdb *redis.Client, prefix string, maxAttempts int, lockout time.Duration) *RedisThrottle {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if lockout <= 0 {
		lockout = DefaultLockoutDuration
	}
	return &RedisThrottle{redis: rdb, prefix: prefix, maxAttempts: maxAttempts, lockout: lockout}
}

func (t *RedisThrottle) failKey(identity string) string {
	return t.prefix + "login:fail:" + identity
}

func (t *RedisThrottle) lockKey(identity string) string {
	return t.prefix + "login:lock:" + identity
}

// Check implements LoginThrottle.
func (t *RedisThrottle) Check(ctx context.Context, identity string) (ThrottleStatus, error) {
	ttl, err := t.redis.PTTL(ctx, t.lockKey(identity)).Result()
	if err != nil {
		return ThrottleStatus{}, fmt.Errorf("throttle lock ttl: %w", err)
	}
	if ttl > 0 {
		return ThrottleStatus{State: ThrottleLocked, Failures: t.maxAttempts, RetryAfter: ttl}, nil
	}

	raw, err := t.redis.Get(ctx, t.failKey(identity)).Result()
	if err == redis.Nil {
		return ThrottleStatus{State: ThrottleClear}, nil
	}
	if err != nil {
		return ThrottleStatus{}, fmt.Errorf("throttle counter: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return ThrottleStatus{State: ThrottleClear}, nil
	}
	return ThrottleStatus{State: ThrottleWarning, Failures: n}, nil
}

// RecordFailure implements LoginThrottle.
func (t *RedisThrottle) RecordFailure(ctx context.Context, identity string) (ThrottleStatus, error) {
	keys := []string{t.failKey(identity), t.lockKey(identity)}
	n, err := recordFailureScript.Run(ctx, t.redis, keys, t.maxAttempts, t.lockout.Milliseconds()).Int()
	if err != nil {
		return ThrottleStatus{}, fmt.Errorf("throttle script: %w", err)
	}
	if n >= t.maxAttempts {
		return ThrottleStatus{State: ThrottleLocked, Failures: n, RetryAfter: t.lockout}, nil
	}
	return ThrottleStatus{State: ThrottleWarning, Failures: n}, nil
}

// Reset implements LoginThrottle.
func (t *RedisThrottle) Reset(ctx context.Context, identity string) error {
	if err := t.redis.Del(ctx, t.failKey(identity), t.lockKey(identity)).Err(); err != nil {
		return fmt.Errorf("throttle reset: %w", err)
	}
	return nil
}
