// Package chat runs message exchanges between a user and an agent: it
// enforces one exchange per conversation, records the transcript and turns
// agent failures into a fallback reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/llm"
	"github.com/agentdesk/agentdesk/internal/telemetry"
	"github.com/agentdesk/agentdesk/internal/validation"
)

const (
	DefaultExchangeTimeout = 75 * time.Second
	DefaultTranscriptLimit = 50
	MaxTranscriptLimit     = 200

	// DefaultFallbackReply is returned in place of a reply when an exchange fails.
	DefaultFallbackReply = config.DefaultFallbackReply
)

// MessageStore persists transcripts. repositories.MessageRepository satisfies it.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	ListConversation(ctx context.Context, userEmail, agentID string, limit int, before *time.Time) ([]*models.Message, error)
}

// AgentSource looks agents up. agents.Registry satisfies it.
type AgentSource interface {
	Get(ctx context.Context, id string) (*models.Agent, error)
}

// ThreadSource hands out provider threads. threads.Manager satisfies it.
type ThreadSource interface {
	GetOrCreate(ctx context.Context, userEmail string, agent *models.Agent) (*models.UserThread, error)
	Invalidate(ctx context.Context, userEmail, agentID string) error
}

// WebhookSender delivers a message to a webhook agent. llm.WebhookClient satisfies it.
type WebhookSender interface {
	Send(ctx context.Context, url string, req llm.WebhookRequest) (string, error)
}

// AssistantAsker runs one assistant exchange. llm.AssistantRunner satisfies it.
type AssistantAsker interface {
	Ask(ctx context.Context, threadID, assistantID, message string) (*llm.Reply, error)
}

// Options tunes an Orchestrator. Zero values select defaults.
type Options struct {
	MaxMessageLength int
	ExchangeTimeout  time.Duration
	FallbackReply    string
}

// Result is the outcome of Send. On fallback, Reply is transient: it has no
// ID and is not part of the stored transcript.
type Result struct {
	UserMessage *models.Message `json:"user_message"`
	Reply       *models.Message `json:"reply"`
	Fallback    bool            `json:"fallback"`
}

// Orchestrator runs message exchanges.
type Orchestrator struct {
	messages  MessageStore
	agents    AgentSource
	threads   ThreadSource
	webhook   WebhookSender
	assistant AssistantAsker
	guard     Guard
	state     *tracker
	opts      Options
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator. guard may be nil for a single
// instance deployment.
func NewOrchestrator(messages MessageStore, agents AgentSource, threads ThreadSource, webhook WebhookSender, assistant AssistantAsker, guard Guard, opts Options) *Orchestrator {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = validation.DefaultMaxMessageLength
	}
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = DefaultExchangeTimeout
	}
	if opts.FallbackReply == "" {
		opts.FallbackReply = DefaultFallbackReply
	}
	return &Orchestrator{
		messages:  messages,
		agents:    agents,
		threads:   threads,
		webhook:   webhook,
		assistant: assistant,
		guard:     guard,
		state:     newTracker(),
		opts:      opts,
		now:       time.Now,
	}
}

func conversationKey(userEmail, agentID string) string {
	return userEmail + "|" + agentID
}

// Phase reports the exchange state of a conversation on this instance.
func (o *Orchestrator) Phase(userEmail, agentID string) Phase {
	return o.state.phase(conversationKey(userEmail, agentID))
}

// Send runs one exchange. Errors before the user message is stored are
// returned as-is; agent failures afterwards produce a fallback Result with a
// nil error.
func (o *Orchestrator) Send(ctx context.Context, userEmail, agentID, text string) (*Result, error) {
	key := conversationKey(userEmail, agentID)
	gen, err := o.state.begin(key)
	if err != nil {
		telemetry.ChatRejectedTotal.WithLabelValues("in_flight").Inc()
		return nil, err
	}
	defer o.state.finish(key, gen)

	if o.guard != nil {
		token, ok, err := o.guard.Acquire(ctx, key)
		if err != nil {
			return nil, apperr.Storage("acquire exchange guard", err)
		}
		if !ok {
			telemetry.ChatRejectedTotal.WithLabelValues("in_flight").Inc()
			return nil, ErrExchangeInFlight
		}
		defer func() {
			if err := o.guard.Release(context.WithoutCancel(ctx), key, token); err != nil {
				slog.Warn("failed to release exchange guard", "agent_id", agentID, "error", err)
			}
		}()
	}

	content := validation.SanitizeMessage(text, o.opts.MaxMessageLength)
	if content == "" {
		telemetry.ChatRejectedTotal.WithLabelValues("invalid").Inc()
		return nil, apperr.Invalid("message", "must not be empty")
	}

	agent, err := o.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	userMsg := &models.Message{
		UserEmail:  userEmail,
		AgentID:    agent.ID,
		Content:    content,
		IsFromUser: true,
	}
	if err := o.messages.CreateMessage(ctx, userMsg); err != nil {
		return nil, apperr.Storage("store user message", err)
	}

	o.state.advance(key, gen)
	strategy := agent.Strategy()
	start := o.now()

	ectx, cancel := context.WithTimeout(ctx, o.opts.ExchangeTimeout)
	reply, err := o.dispatch(ectx, userEmail, agent, content)
	cancel()
	telemetry.AgentReplyDuration.WithLabelValues(string(strategy)).Observe(o.now().Sub(start).Seconds())

	if !o.state.current(key, gen) {
		telemetry.ChatExchangesTotal.WithLabelValues(string(strategy), "stale").Inc()
		slog.Info("discarding outcome for reset conversation", "agent_id", agent.ID, "error", err)
		return nil, ErrStaleExchange
	}
	if err == nil {
		reply.UserEmail = userEmail
		reply.AgentID = agent.ID
		if serr := o.messages.CreateMessage(ctx, reply); serr != nil {
			err = apperr.Storage("store agent reply", serr)
		}
	}
	if err != nil {
		telemetry.ChatExchangesTotal.WithLabelValues(string(strategy), "fallback").Inc()
		slog.Warn("agent exchange failed, returning fallback",
			"agent_id", agent.ID,
			"strategy", strategy,
			"error", err,
		)
		return &Result{UserMessage: userMsg, Reply: o.fallback(agent.ID, userEmail), Fallback: true}, nil
	}

	telemetry.ChatExchangesTotal.WithLabelValues(string(strategy), "replied").Inc()
	return &Result{UserMessage: userMsg, Reply: reply}, nil
}

// dispatch asks the agent for a reply using its bound strategy.
func (o *Orchestrator) dispatch(ctx context.Context, userEmail string, agent *models.Agent, content string) (*models.Message, error) {
	switch agent.Strategy() {
	case models.StrategyWebhook:
		text, err := o.webhook.Send(ctx, *agent.WebhookURL, llm.WebhookRequest{
			Message:   content,
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Timestamp: o.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		return &models.Message{Content: text}, nil

	case models.StrategyAssistant:
		thread, err := o.threads.GetOrCreate(ctx, userEmail, agent)
		if err != nil {
			return nil, err
		}
		reply, err := o.assistant.Ask(ctx, thread.ThreadID, *agent.AssistantID, content)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", apperr.ErrTimeout, err)
			}
			return nil, err
		}
		threadID := thread.ThreadID
		messageID := reply.MessageID
		return &models.Message{Content: reply.Text, ThreadID: &threadID, ProviderMessageID: &messageID}, nil
	}
	return nil, fmt.Errorf("%w: agent %s has no webhook or assistant", apperr.ErrAgentUnavailable, agent.ID)
}

func (o *Orchestrator) fallback(agentID, userEmail string) *models.Message {
	return &models.Message{
		UserEmail:  userEmail,
		AgentID:    agentID,
		Content:    o.opts.FallbackReply,
		IsFromUser: false,
		CreatedAt:  o.now(),
	}
}

// Transcript returns up to limit messages of a conversation in ascending
// order, optionally only those created before a point in time.
func (o *Orchestrator) Transcript(ctx context.Context, userEmail, agentID string, limit int, before *time.Time) ([]*models.Message, error) {
	if _, err := o.agents.Get(ctx, agentID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	if limit > MaxTranscriptLimit {
		limit = MaxTranscriptLimit
	}
	msgs, err := o.messages.ListConversation(ctx, userEmail, agentID, limit, before)
	if err != nil {
		return nil, apperr.Storage("list transcript", err)
	}
	return msgs, nil
}

// Reset starts the conversation over: any in-flight exchange becomes stale
// and the provider thread is retired. The stored transcript is kept.
func (o *Orchestrator) Reset(ctx context.Context, userEmail, agentID string) error {
	if _, err := o.agents.Get(ctx, agentID); err != nil {
		return err
	}
	key := conversationKey(userEmail, agentID)
	o.state.reset(key)
	if o.guard != nil {
		if err := o.guard.Clear(ctx, key); err != nil {
			slog.Warn("failed to clear exchange guard", "agent_id", agentID, "error", err)
		}
	}
	return o.threads.Invalidate(ctx, userEmail, agentID)
}
