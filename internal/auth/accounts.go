package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/telemetry"
	"github.com/agentdesk/agentdesk/internal/validation"
)

// UserStore is the subset of the user repository used by Accounts.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	RegisterWithAccessKey(ctx context.Context, user *models.User, keyValue string) (*models.AccessKey, error)
}

// SessionStore is the subset of the session repository used by Accounts.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

// ClientInfo is recorded on the session at login.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string
	User      *models.User
	Session   *models.Session
	ExpiresAt time.Time
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User    *models.User
	Session *models.Session
	Scopes  []string
}

// Accounts implements registration, login, session authentication and logout.
type Accounts struct {
	users    UserStore
	sessions SessionStore
	throttle LoginThrottle
	window   SessionWindow
	now      func() time.Time
}

// NewAccounts creates an Accounts service.
func NewAccounts(users UserStore, sessions SessionStore, throttle LoginThrottle, window SessionWindow) *Accounts {
	return &Accounts{
		users:    users,
		sessions: sessions,
		throttle: throttle,
		window:   window,
		now:      time.Now,
	}
}

// Register creates a user gated by a single-use access key. The key is
// reserved and the user inserted atomically; a duplicate email leaves the
// key unused.
func (a *Accounts) Register(ctx context.Context, email, password, accessKey string) (*models.User, error) {
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, err
	}
	accessKey = strings.TrimSpace(accessKey)
	if accessKey == "" {
		return nil, apperr.Invalid("access_key", "is required")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{Email: email, PasswordHash: hash}
	if _, err := a.users.RegisterWithAccessKey(ctx, user, accessKey); err != nil {
		var keyErr *apperr.KeyError
		if errors.As(err, &keyErr) || errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		slog.Error("registration failed after access key validation", "email", email, "error", err)
		return nil, apperr.Storage("register user", err)
	}

	slog.Info("user registered", "user_id", user.ID, "email", email)
	return user, nil
}

// Login verifies credentials and opens a session. A locked identity is
// refused before the password or the user table is consulted.
func (a *Accounts) Login(ctx context.Context, email, password string, client ClientInfo) (*LoginResult, error) {
	st, err := a.throttle.Check(ctx, email)
	if err != nil {
		return nil, apperr.Storage("login throttle", err)
	}
	if st.State == ThrottleLocked {
		return nil, &apperr.AuthError{Kind: apperr.RateLimited, RetryAfter: st.RetryAfter}
	}

	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Storage("get user", err)
	}
	if user == nil {
		return nil, a.fail(ctx, email)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		slog.Error("stored password hash is unusable", "user_id", user.ID, "error", err)
	}
	if !ok {
		return nil, a.fail(ctx, email)
	}

	if err := a.throttle.Reset(ctx, email); err != nil {
		slog.Warn("failed to reset login throttle", "email", email, "error", err)
	}

	sess := &models.Session{UserID: user.ID}
	if client.IPAddress != "" {
		sess.IPAddress = &client.IPAddress
	}
	if client.UserAgent != "" {
		sess.UserAgent = &client.UserAgent
	}
	if err := a.sessions.CreateSession(ctx, sess); err != nil {
		return nil, apperr.Storage("create session", err)
	}

	token, err := GenerateSessionToken(user.ID, user.Email, sess.ID, a.window.MaxAge)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Token:     token,
		User:      user,
		Session:   sess,
		ExpiresAt: sess.LoginAt.Add(a.window.MaxAge),
	}, nil
}

func (a *Accounts) fail(ctx context.Context, email string) error {
	telemetry.LoginFailuresTotal.Inc()
	st, err := a.throttle.RecordFailure(ctx, email)
	if err != nil {
		slog.Error("failed to record login failure", "email", email, "error", err)
	} else if st.State == ThrottleLocked {
		telemetry.LoginLockoutsTotal.Inc()
		slog.Warn("login locked after repeated failures", "email", email, "failures", st.Failures)
	}
	return &apperr.AuthError{Kind: apperr.InvalidCredentials}
}

// Authenticate resolves a session token to its principal and refreshes the
// session's activity time. Privilege is derived from the stored user row.
func (a *Accounts) Authenticate(ctx context.Context, token string) (*Principal, error) {
	expired := &apperr.AuthError{Kind: apperr.SessionExpired}

	claims, err := ValidateSessionToken(token)
	if err != nil {
		return nil, expired
	}

	sess, err := a.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		return nil, apperr.Storage("get session", err)
	}
	if sess == nil || sess.UserID != claims.UserID {
		return nil, expired
	}

	now := a.now()
	if err := a.window.Check(sess, now); err != nil {
		return nil, err
	}

	user, err := a.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, apperr.Storage("get user", err)
	}
	if user == nil {
		return nil, expired
	}

	if err := a.sessions.TouchSession(ctx, sess.ID, now); err != nil {
		slog.Warn("failed to refresh session activity", "session_id", sess.ID, "error", err)
	} else {
		sess.LastActivityAt = now
	}

	return &Principal{User: user, Session: sess, Scopes: ScopesForUser(user.IsAdmin)}, nil
}

// Logout revokes a session. Revoking an unknown or revoked session is not an error.
func (a *Accounts) Logout(ctx context.Context, sessionID string) error {
	if err := a.sessions.RevokeSession(ctx, sessionID, a.now()); err != nil {
		return apperr.Storage("revoke session", err)
	}
	return nil
}
