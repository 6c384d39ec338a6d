// Package threads maps each (user, agent) conversation onto a provider-side
// thread with a bounded lifetime.
package threads

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/db/models"
)

// Store persists thread mappings. repositories.ThreadRepository satisfies it.
type Store interface {
	GetLiveThread(ctx context.Context, userEmail, agentID string, now time.Time) (*models.UserThread, error)
	CreateActiveThread(ctx context.Context, t *models.UserThread, now time.Time) (*models.UserThread, bool, error)
	DeactivateThread(ctx context.Context, userEmail, agentID string) (int64, error)
}

// Conversations creates and deletes provider-side threads.
type Conversations interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// Manager hands out the live thread for a conversation, creating one when the
// previous thread is missing or expired.
type Manager struct {
	store    Store
	provider Conversations
	now      func() time.Time
}

// NewManager creates a thread manager.
func NewManager(store Store, provider Conversations) *Manager {
	return &Manager{store: store, provider: provider, now: time.Now}
}

// GetOrCreate returns the conversation's live thread. A live thread is reused
// as-is; its expiry is never extended. When two callers race to create the
// first thread both receive the same row and the loser's provider thread is
// deleted.
func (m *Manager) GetOrCreate(ctx context.Context, userEmail string, agent *models.Agent) (*models.UserThread, error) {
	now := m.now()
	live, err := m.store.GetLiveThread(ctx, userEmail, agent.ID, now)
	if err != nil {
		return nil, apperr.Storage("get live thread", err)
	}
	if live != nil {
		return live, nil
	}

	threadID, err := m.provider.CreateThread(ctx)
	if err != nil {
		return nil, err
	}

	hours := agent.ThreadExpiryHours
	if hours <= 0 {
		hours = 24
	}
	candidate := &models.UserThread{
		UserEmail: userEmail,
		AgentID:   agent.ID,
		ThreadID:  threadID,
		ExpiresAt: now.Add(time.Duration(hours) * time.Hour),
	}
	row, created, err := m.store.CreateActiveThread(ctx, candidate, now)
	if err != nil {
		m.discard(ctx, threadID)
		return nil, apperr.Storage("create thread", err)
	}
	if !created {
		slog.Debug("thread creation lost race", "agent_id", agent.ID, "thread_id", row.ThreadID)
		m.discard(ctx, threadID)
		return row, nil
	}

	slog.Info("thread created",
		"agent_id", agent.ID,
		"thread_id", threadID,
		"expires_at", row.ExpiresAt.Format(time.RFC3339),
	)
	return row, nil
}

// Invalidate retires the conversation's active thread so that the next
// exchange starts a fresh one.
func (m *Manager) Invalidate(ctx context.Context, userEmail, agentID string) error {
	n, err := m.store.DeactivateThread(ctx, userEmail, agentID)
	if err != nil {
		return apperr.Storage("deactivate thread", err)
	}
	if n > 0 {
		slog.Info("thread invalidated", "agent_id", agentID)
	}
	return nil
}

func (m *Manager) discard(ctx context.Context, threadID string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.provider.DeleteThread(dctx, threadID); err != nil {
		slog.Warn("failed to delete orphan provider thread", "thread_id", threadID, "error", err)
	}
}
