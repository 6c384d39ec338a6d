package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no provider API key is available.
var ErrNotConfigured = errors.New("llm provider api key not configured")

// RunStatus mirrors the provider's run lifecycle.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether no further status change is expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCancelled, RunFailed, RunCompleted, RunExpired, RunIncomplete:
		return true
	}
	return false
}

// Run is the provider's view of one assistant execution.
type Run struct {
	ID        string
	Status    RunStatus
	LastError string
}

// ThreadMessage is a message read back from a provider thread.
type ThreadMessage struct {
	ID        string
	Role      string
	Text      string
	CreatedAt int64
}

// AssistantSpec describes a provider-side assistant.
type AssistantSpec struct {
	Name         string
	Instructions string
	Model        string
}

// Provider is the subset of the Assistants API used by agentdesk.
type Provider interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	AddUserMessage(ctx context.Context, threadID, content string) error
	StartRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	// ListRunMessages returns the messages produced by runID, newest first.
	ListRunMessages(ctx context.Context, threadID, runID string) ([]ThreadMessage, error)

	CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error)
	UpdateAssistant(ctx context.Context, assistantID string, spec AssistantSpec) error
	DeleteAssistant(ctx context.Context, assistantID string) error
}
