package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultGuardTTL bounds how long a crashed instance can block a conversation.
const DefaultGuardTTL = 2 * time.Minute

// guardMargin covers storing the reply after the exchange deadline.
const guardMargin = 30 * time.Second

// GuardTTLFor returns a guard TTL that outlives an exchange capped at
// exchangeTimeout, never shorter than DefaultGuardTTL.
func GuardTTLFor(exchangeTimeout time.Duration) time.Duration {
	if exchangeTimeout <= 0 {
		exchangeTimeout = DefaultExchangeTimeout
	}
	return max(exchangeTimeout+guardMargin, DefaultGuardTTL)
}

// Guard provides single-flight exchanges across instances.
type Guard interface {
	// Acquire claims key. ok is false when another owner holds it.
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	// Release frees key only if token still owns it.
	Release(ctx context.Context, key, token string) error
	// Clear frees key regardless of owner.
	Clear(ctx context.Context, key string) error
}

// releaseScript deletes KEYS[1] only when it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard is a Guard backed by SET NX PX.
type RedisGuard struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a RedisGuard. Keys are namespaced under prefix.
func NewRedisGuard(rdb *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &RedisGuard{redis: rdb, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) key(k string) string {
	return g.prefix + "exchange:" + k
}

// Acquire implements Guard.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.New().String()
	ok, err := g.redis.SetNX(ctx, g.key(key), token, g.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("exchange guard acquire: %w", err)
	}
	return token, ok, nil
}

// Release implements Guard.
func (g *RedisGuard) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, g.redis, []string{g.key(key)}, token).Err(); err != nil {
		return fmt.Errorf("exchange guard release: %w", err)
	}
	return nil
}

// Clear implements Guard.
func (g *RedisGuard) Clear(ctx context.Context, key string) error {
	if err := g.redis.Del(ctx, g.key(key)).Err(); err != nil {
		return fmt.Errorf("exchange guard clear: %w", err)
	}
	return nil
}
