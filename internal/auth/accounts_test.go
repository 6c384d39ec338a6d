package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/db/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeUsers struct {
	byEmail     map[string]*models.User
	registerErr error
	registered  []*models.User
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) RegisterWithAccessKey(_ context.Context, user *models.User, key string) (*models.AccessKey, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	user.ID = uuid.New().String()
	f.registered = append(f.registered, user)
	return &models.AccessKey{KeyValue: key, IsUsed: true}, nil
}

type fakeSessions struct {
	mu      sync.Mutex
	byID    map[string]*models.Session
	touched int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: make(map[string]*models.Session)}
}

func (f *fakeSessions) CreateSession(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	s.ID = uuid.New().String()
	s.LoginAt, s.LastActivityAt = now, now
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) TouchSession(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byID[id]; ok {
		s.LastActivityAt = at
		f.touched++
	}
	return nil
}

func (f *fakeSessions) RevokeSession(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byID[id]; ok {
		s.RevokedAt = &at
	}
	return nil
}

var (
	testHashOnce sync.Once
	testHash     string
)

// secretHash hashes "Secret123" once per test binary; bcrypt at cost 12 is slow.
func secretHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := HashPassword("Secret123")
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		testHash = h
	})
	return testHash
}

func newTestAccounts(t *testing.T) (*Accounts, *fakeUsers, *fakeSessions) {
	t.Helper()
	resetJWTSecret()
	t.Setenv(JWTSecretEnv, testSecret)

	users := &fakeUsers{byEmail: map[string]*models.User{
		"ana@example.com": {ID: "user-1", Email: "ana@example.com", PasswordHash: secretHash(t)},
	}}
	sessions := newFakeSessions()
	return NewAccounts(users, sessions, NewMemoryThrottle(5, 15*time.Minute), DefaultSessionWindow()), users, sessions
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin_Success(t *testing.T) {
	accts, _, sessions := newTestAccounts(t)

	res, err := accts.Login(context.Background(), "ana@example.com", "Secret123", ClientInfo{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "user-1", res.User.ID)
	require.Contains(t, sessions.byID, res.Session.ID)
	assert.Equal(t, "10.0.0.1", *sessions.byID[res.Session.ID].IPAddress)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), res.ExpiresAt, time.Minute)
}

func TestLogin_WrongPasswordAndUnknownUser(t *testing.T) {
	accts, _, _ := newTestAccounts(t)
	ctx := context.Background()

	_, err := accts.Login(ctx, "ana@example.com", "wrong", ClientInfo{})
	assert.True(t, apperr.IsAuth(err, apperr.InvalidCredentials), "err = %v", err)

	_, err = accts.Login(ctx, "ghost@example.com", "Secret123", ClientInfo{})
	assert.True(t, apperr.IsAuth(err, apperr.InvalidCredentials), "err = %v", err)
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	accts, _, _ := newTestAccounts(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := accts.Login(ctx, "ana@example.com", "wrong", ClientInfo{})
		require.True(t, apperr.IsAuth(err, apperr.InvalidCredentials), "attempt %d: %v", i+1, err)
	}

	// Even the correct password is refused while locked.
	_, err := accts.Login(ctx, "ana@example.com", "Secret123", ClientInfo{})
	var authErr *apperr.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, apperr.RateLimited, authErr.Kind)
	assert.Greater(t, authErr.RetryAfter, 14*time.Minute)
}

func TestLogin_SuccessResetsCounter(t *testing.T) {
	accts, _, _ := newTestAccounts(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = accts.Login(ctx, "ana@example.com", "wrong", ClientInfo{})
	}
	_, err := accts.Login(ctx, "ana@example.com", "Secret123", ClientInfo{})
	require.NoError(t, err)

	st, err := accts.throttle.Check(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, ThrottleClear, st.State)
}

// ---------------------------------------------------------------------------
// Authenticate / Logout
// ---------------------------------------------------------------------------

func TestAuthenticate_RefreshesActivity(t *testing.T) {
	accts, _, sessions := newTestAccounts(t)
	ctx := context.Background()
	res, err := accts.Login(ctx, "ana@example.com", "Secret123", ClientInfo{})
	require.NoError(t, err)

	later := time.Now().Add(90 * time.Minute)
	accts.now = func() time.Time { return later }

	p, err := accts.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.User.ID)
	assert.Equal(t, []string{"chat"}, p.Scopes)
	assert.Equal(t, 1, sessions.touched)
	assert.Equal(t, later, sessions.byID[res.Session.ID].LastActivityAt)
}

func TestAuthenticate_IdleSessionExpires(t *testing.T) {
	accts, _, _ := newTestAccounts(t)
	ctx := context.Background()
	res, err := accts.Login(ctx, "ana@example.com", "Secret123", ClientInfo{})
	require.NoError(t, err)

	accts.now = func() time.Time { return time.Now().Add(2*time.Hour + time.Second) }
	_, err = accts.Authenticate(ctx, res.Token)
	assert.True(t, apperr.IsAuth(err, apperr.SessionExpired), "err = %v", err)
}

func TestAuthenticate_AdminDerivedFromStore(t *testing.T) {
	accts, users, _ := newTestAccounts(t)
	ctx := context.Background()
	res, err := accts.Login(ctx, "ana@example.com", "Secret123", ClientInfo{})
	require.NoError(t, err)

	users.byEmail["ana@example.com"].IsAdmin = true
	p, err := accts.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.True(t, HasScope(p.Scopes, ScopeAgentsManage))

	users.byEmail["ana@example.com"].IsAdmin = false
	p, err = accts.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.False(t, HasScope(p.Scopes, ScopeAgentsManage))
}

func TestLogout_RevokesSession(t *testing.T) {
	accts, _, _ := newTestAccounts(t)
	ctx := context.Background()
	res, err := accts.Login(ctx, "ana@example.com", "Secret123", ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, accts.Logout(ctx, res.Session.ID))
	_, err = accts.Authenticate(ctx, res.Token)
	assert.True(t, apperr.IsAuth(err, apperr.SessionExpired), "err = %v", err)
}

func TestAuthenticate_BadToken(t *testing.T) {
	accts, _, _ := newTestAccounts(t)
	_, err := accts.Authenticate(context.Background(), "garbage")
	assert.True(t, apperr.IsAuth(err, apperr.SessionExpired))
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		accts, users, _ := newTestAccounts(t)
		u, err := accts.Register(ctx, "new@example.com", "Passw0rdX", " KEY-ABC-123456 ")
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		require.Len(t, users.registered, 1)
		ok, err := VerifyPassword("Passw0rdX", users.registered[0].PasswordHash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("validation precedes storage", func(t *testing.T) {
		accts, users, _ := newTestAccounts(t)
		_, err := accts.Register(ctx, "not-an-email", "Passw0rdX", "KEY")
		assert.True(t, apperr.IsValidation(err))
		_, err = accts.Register(ctx, "new@example.com", "weak", "KEY")
		assert.True(t, apperr.IsValidation(err))
		_, err = accts.Register(ctx, "new@example.com", "Passw0rdX", "  ")
		assert.True(t, apperr.IsValidation(err))
		assert.Empty(t, users.registered)
	})

	t.Run("key errors pass through", func(t *testing.T) {
		accts, users, _ := newTestAccounts(t)
		users.registerErr = &apperr.KeyError{Kind: apperr.KeyAlreadyUsed}
		_, err := accts.Register(ctx, "new@example.com", "Passw0rdX", "KEY")
		assert.True(t, apperr.IsKey(err, apperr.KeyAlreadyUsed))
	})

	t.Run("storage failure is wrapped", func(t *testing.T) {
		accts, users, _ := newTestAccounts(t)
		users.registerErr = errors.New("connection reset")
		_, err := accts.Register(ctx, "new@example.com", "Passw0rdX", "KEY")
		var se *apperr.StorageError
		assert.True(t, errors.As(err, &se))
	})
}
