// setup.go authenticates first-run setup requests. Setup endpoints use their
// own scheme ("Authorization: SetupToken <token>"), independent of sessions.
// The token is printed once at first boot and invalidated when the first admin
// is created.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/auth"
)

// SetupTokenContextKey is set when a request is authenticated via setup token.
const SetupTokenContextKey = "is_setup_request"

const (
	setupMaxAttempts = 5
	setupRateWindow  = time.Minute
)

// SetupStore reads the first-run state. repositories.SettingsRepository satisfies it.
type SetupStore interface {
	IsSetupCompleted(ctx context.Context) (bool, error)
	GetSetupTokenHash(ctx context.Context) (string, error)
}

// setupRateLimiter is a sliding window of attempts per IP.
type setupRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newSetupRateLimiter() *setupRateLimiter {
	return &setupRateLimiter{attempts: make(map[string][]time.Time)}
}

func (rl *setupRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-setupRateWindow)

	recent := rl.attempts[ip][:0]
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= setupMaxAttempts {
		rl.attempts[ip] = recent
		return false
	}

	rl.attempts[ip] = append(recent, now)
	return true
}

// Take implements Limiter.
func (rl *setupRateLimiter) Take(_ context.Context, key string) (Decision, error) {
	if rl.allow(key) {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: setupRateWindow}, nil
}

// Limit implements Limiter.
func (rl *setupRateLimiter) Limit() int { return setupMaxAttempts }

// SetupRateLimitConfig is the budget for setup token attempts.
func SetupRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: setupMaxAttempts, BurstSize: setupMaxAttempts, CleanupInterval: 5 * time.Minute}
}

// SetupTokenMiddleware validates setup token authentication. In order it
// refuses once setup is complete (403), applies the per-IP attempt budget
// before any bcrypt work (429), parses the SetupToken header (401) and compares
// the token with the stored hash. limiter may be nil, in which case an
// in-process window of 5 attempts per minute is used.
func SetupTokenMiddleware(store SetupStore, limiter Limiter) gin.HandlerFunc {
	if limiter == nil {
		limiter = newSetupRateLimiter()
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		completed, err := store.IsSetupCompleted(ctx)
		if err != nil {
			slog.Error("setup middleware: failed to check setup status", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check setup status",
			})
			return
		}
		if completed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Setup has already been completed. These endpoints are permanently disabled.",
			})
			return
		}

		clientIP := c.ClientIP()
		d, err := limiter.Take(ctx, "setup:"+clientIP)
		if err != nil {
			slog.Error("setup middleware: rate limiter failed", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Setup is temporarily unavailable",
			})
			return
		}
		if !d.Allowed {
			slog.Warn("setup middleware: rate limit exceeded", "ip", clientIP)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many setup token attempts. Try again in one minute.",
				"retry_after": retryAfterSeconds(d.RetryAfter),
			})
			return
		}

		scheme, rawToken, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		rawToken = strings.TrimSpace(rawToken)
		if !ok || !strings.EqualFold(scheme, "SetupToken") || rawToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Use: Authorization: SetupToken <token>",
			})
			return
		}

		storedHash, err := store.GetSetupTokenHash(ctx)
		if err != nil {
			slog.Error("setup middleware: failed to get token hash", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to validate setup token",
			})
			return
		}
		if storedHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "No setup token has been generated. Restart the server to generate one.",
			})
			return
		}

		if match, _ := auth.VerifyPassword(rawToken, storedHash); !match {
			slog.Warn("setup middleware: invalid setup token", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid setup token",
			})
			return
		}

		c.Set(SetupTokenContextKey, true)
		c.Next()
	}
}
