package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
)

const (
	DefaultPollInterval    = time.Second
	DefaultMaxPollAttempts = 30
)

// Reply is an assistant answer read back from a thread.
type Reply struct {
	Text      string
	MessageID string
}

// AssistantRunner drives one assistant exchange: post the user message, start
// a run, poll it until it settles, then read the newest assistant message.
type AssistantRunner struct {
	Provider     Provider
	PollInterval time.Duration
	MaxAttempts  int
}

// NewAssistantRunner creates a runner. Non-positive values select the defaults.
func NewAssistantRunner(p Provider, interval time.Duration, attempts int) *AssistantRunner {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if attempts <= 0 {
		attempts = DefaultMaxPollAttempts
	}
	return &AssistantRunner{Provider: p, PollInterval: interval, MaxAttempts: attempts}
}

// Ask sends message on threadID and waits for assistantID to answer.
func (r *AssistantRunner) Ask(ctx context.Context, threadID, assistantID, message string) (*Reply, error) {
	if err := r.Provider.AddUserMessage(ctx, threadID, message); err != nil {
		return nil, err
	}
	run, err := r.Provider.StartRun(ctx, threadID, assistantID)
	if err != nil {
		return nil, err
	}

	run, err = r.wait(ctx, threadID, run)
	if err != nil {
		return nil, err
	}

	msgs, err := r.Provider.ListRunMessages(ctx, threadID, run.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.Role == "assistant" && m.Text != "" {
			return &Reply{Text: m.Text, MessageID: m.ID}, nil
		}
	}
	return nil, fmt.Errorf("%w: run %s completed without an assistant reply", apperr.ErrAgentUnavailable, run.ID)
}

func (r *AssistantRunner) wait(ctx context.Context, threadID string, run *Run) (*Run, error) {
	timer := time.NewTimer(r.PollInterval)
	defer timer.Stop()

	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", apperr.ErrTimeout, ctx.Err())
		case <-timer.C:
		}

		current, err := r.Provider.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case RunCompleted:
			return current, nil
		case RunFailed:
			return nil, fmt.Errorf("%w: run failed: %s", apperr.ErrAgentUnavailable, current.LastError)
		case RunExpired, RunCancelled, RunCancelling, RunIncomplete, RunRequiresAction:
			return nil, fmt.Errorf("%w: run %s", apperr.ErrAgentUnavailable, current.Status)
		}
		timer.Reset(r.PollInterval)
	}
	return nil, fmt.Errorf("%w: run %s still pending after %d checks", apperr.ErrTimeout, run.ID, r.MaxAttempts)
}
