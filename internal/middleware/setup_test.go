package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentdesk/agentdesk/internal/db/repositories"
)

const (
	completedQuery = "SELECT setup_completed FROM system_settings"
	tokenHashQuery = "SELECT setup_token_hash FROM system_settings"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func setupRouter(t *testing.T, limiter Limiter) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repositories.NewSettingsRepository(sqlx.NewDb(db, "sqlmock"))
	r := gin.New()
	r.POST("/setup", SetupTokenMiddleware(repo, limiter), func(c *gin.Context) {
		assert.True(t, c.GetBool(SetupTokenContextKey))
		c.Status(http.StatusOK)
	})
	return mock, r
}

func expectCompleted(mock sqlmock.Sqlmock, completed bool) {
	mock.ExpectQuery(completedQuery).
		WillReturnRows(sqlmock.NewRows([]string{"setup_completed"}).AddRow(completed))
}

func expectTokenHash(mock sqlmock.Sqlmock, hash interface{}) {
	mock.ExpectQuery(tokenHashQuery).
		WillReturnRows(sqlmock.NewRows([]string{"setup_token_hash"}).AddRow(hash))
}

func hashToken(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func postSetup(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/setup", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// SetupTokenMiddleware
// ---------------------------------------------------------------------------

func TestSetupMiddleware_AlreadyCompleted(t *testing.T) {
	mock, r := setupRouter(t, nil)
	expectCompleted(mock, true)

	w := postSetup(r, "SetupToken agd_setup_abc")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetupMiddleware_StatusError(t *testing.T) {
	mock, r := setupRouter(t, nil)
	mock.ExpectQuery(completedQuery).WillReturnError(errors.New("db down"))

	assert.Equal(t, http.StatusInternalServerError, postSetup(r, "SetupToken agd_setup_abc").Code)
}

func TestSetupMiddleware_BadHeader(t *testing.T) {
	for _, header := range []string{"", "Bearer some-jwt", "SetupToken", "SetupToken   "} {
		t.Run(header, func(t *testing.T) {
			mock, r := setupRouter(t, nil)
			expectCompleted(mock, false)
			assert.Equal(t, http.StatusUnauthorized, postSetup(r, header).Code)
		})
	}
}

func TestSetupMiddleware_NoTokenIssued(t *testing.T) {
	mock, r := setupRouter(t, nil)
	expectCompleted(mock, false)
	expectTokenHash(mock, nil)

	assert.Equal(t, http.StatusForbidden, postSetup(r, "SetupToken agd_setup_abc").Code)
}

func TestSetupMiddleware_HashLookupError(t *testing.T) {
	mock, r := setupRouter(t, nil)
	expectCompleted(mock, false)
	mock.ExpectQuery(tokenHashQuery).WillReturnError(errors.New("connection lost"))

	assert.Equal(t, http.StatusInternalServerError, postSetup(r, "SetupToken agd_setup_abc").Code)
}

func TestSetupMiddleware_TokenCheck(t *testing.T) {
	const token = "agd_setup_d2VsbC1rZXB0LXNlY3JldA"

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "SetupToken " + token, http.StatusOK},
		{"scheme is case-insensitive", "setuptoken " + token, http.StatusOK},
		{"wrong token", "SetupToken agd_setup_guess", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, r := setupRouter(t, nil)
			expectCompleted(mock, false)
			expectTokenHash(mock, hashToken(t, token))

			assert.Equal(t, tt.want, postSetup(r, tt.header).Code)
		})
	}
}

// ---------------------------------------------------------------------------
// Attempt budget
// ---------------------------------------------------------------------------

func TestSetupRateLimiter_Window(t *testing.T) {
	rl := newSetupRateLimiter()
	for i := 0; i < setupMaxAttempts; i++ {
		require.True(t, rl.allow("1.2.3.4"), "attempt %d", i+1)
	}
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"))
}

func TestSetupRateLimiter_ForgetsOldAttempts(t *testing.T) {
	rl := newSetupRateLimiter()
	stale := time.Now().Add(-2 * setupRateWindow)
	for i := 0; i < setupMaxAttempts; i++ {
		rl.attempts["1.2.3.4"] = append(rl.attempts["1.2.3.4"], stale)
	}
	assert.True(t, rl.allow("1.2.3.4"))
	assert.Len(t, rl.attempts["1.2.3.4"], 1)
}

func TestSetupMiddleware_DefaultBudget(t *testing.T) {
	mock, r := setupRouter(t, nil)
	for i := 0; i <= setupMaxAttempts; i++ {
		expectCompleted(mock, false)
	}

	var last int
	for i := 0; i <= setupMaxAttempts; i++ {
		last = postSetup(r, "Bearer not-a-setup-token").Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestSetupMiddleware_RedisBudget(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	limiter := NewRedisRateLimiter(rdb, "agentdesk", "setup", SetupRateLimitConfig())

	mock, r := setupRouter(t, limiter)
	for i := 0; i <= setupMaxAttempts; i++ {
		expectCompleted(mock, false)
	}

	var last *httptest.ResponseRecorder
	for i := 0; i <= setupMaxAttempts; i++ {
		last = postSetup(r, "")
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

type scriptedLimiter struct {
	decision Decision
	err      error
	keys     []string
}

func (s *scriptedLimiter) Take(_ context.Context, key string) (Decision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func (s *scriptedLimiter) Limit() int { return setupMaxAttempts }

func TestSetupMiddleware_DeniedBeforeHashLookup(t *testing.T) {
	limiter := &scriptedLimiter{decision: Decision{RetryAfter: 30 * time.Second}}
	mock, r := setupRouter(t, limiter)
	expectCompleted(mock, false)

	w := postSetup(r, "SetupToken agd_setup_abc")

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	require.Len(t, limiter.keys, 1)
	assert.Regexp(t, `^setup:`, limiter.keys[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetupMiddleware_LimiterErrorFailsClosed(t *testing.T) {
	mock, r := setupRouter(t, &scriptedLimiter{err: errors.New("redis down")})
	expectCompleted(mock, false)

	assert.Equal(t, http.StatusServiceUnavailable, postSetup(r, "SetupToken agd_setup_abc").Code)
}
