package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentdesk/agentdesk/internal/apperr"
)

// APIKeyConfigKey is the admin configuration entry holding the provider key.
const APIKeyConfigKey = "openai_api_key"

// KeySource resolves admin configuration values. sysconfig.Store satisfies it.
type KeySource interface {
	Value(ctx context.Context, key string) (string, bool, error)
}

// OpenAIProvider implements Provider on top of the Assistants v2 API. The API
// key is looked up on every call so that rotating it through the admin
// configuration takes effect without a restart.
type OpenAIProvider struct {
	keys     KeySource
	fallback string
	baseURL  string

	mu        sync.Mutex
	client    *openai.Client
	clientKey string
}

// NewOpenAIProvider creates a provider. keys may be nil, in which case only
// fallbackKey is used. An empty baseURL selects the public API.
func NewOpenAIProvider(keys KeySource, fallbackKey, baseURL string) *OpenAIProvider {
	return &OpenAIProvider{keys: keys, fallback: fallbackKey, baseURL: baseURL}
}

func (p *OpenAIProvider) apiKey(ctx context.Context) (string, error) {
	if p.keys != nil {
		v, ok, err := p.keys.Value(ctx, APIKeyConfigKey)
		if err != nil {
			return "", err
		}
		if ok && v != "" {
			return v, nil
		}
	}
	if p.fallback != "" {
		return p.fallback, nil
	}
	return "", ErrNotConfigured
}

func (p *OpenAIProvider) clientFor(ctx context.Context) (*openai.Client, error) {
	key, err := p.apiKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrAgentUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.clientKey == key {
		return p.client, nil
	}

	cfg := openai.DefaultConfig(key)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	cfg.AssistantVersion = "v2"
	if p.client != nil {
		slog.Info("openai api key changed, rebuilding client")
	}
	p.client = openai.NewClientWithConfig(cfg)
	p.clientKey = key
	return p.client, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: openai %s: %v", apperr.ErrAgentUnavailable, op, err)
}

func (p *OpenAIProvider) CreateThread(ctx context.Context) (string, error) {
	c, err := p.clientFor(ctx)
	if err != nil {
		return "", err
	}
	th, err := c.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", unavailable("create thread", err)
	}
	return th.ID, nil
}

func (p *OpenAIProvider) DeleteThread(ctx context.Context, threadID string) error {
	c, err := p.clientFor(ctx)
	if err != nil {
		return err
	}
	if _, err := c.DeleteThread(ctx, threadID); err != nil {
		return unavailable("delete thread", err)
	}
	return nil
}

func (p *OpenAIProvider) AddUserMessage(ctx context.Context, threadID, content string) error {
	c, err := p.clientFor(ctx)
	if err != nil {
		return err
	}
	_, err = c.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	if err != nil {
		return unavailable("create message", err)
	}
	return nil
}

func (p *OpenAIProvider) StartRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	c, err := p.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	run, err := c.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return nil, unavailable("create run", err)
	}
	return toRun(run), nil
}

func (p *OpenAIProvider) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	c, err := p.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	run, err := c.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, unavailable("retrieve run", err)
	}
	return toRun(run), nil
}

func (p *OpenAIProvider) ListRunMessages(ctx context.Context, threadID, runID string) ([]ThreadMessage, error) {
	c, err := p.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	limit := 20
	order := "desc"
	var filter *string
	if runID != "" {
		filter = &runID
	}
	list, err := c.ListMessage(ctx, threadID, &limit, &order, nil, nil, filter)
	if err != nil {
		return nil, unavailable("list messages", err)
	}

	out := make([]ThreadMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		tm := ThreadMessage{ID: m.ID, Role: m.Role, CreatedAt: int64(m.CreatedAt)}
		for _, part := range m.Content {
			if part.Text != nil && part.Text.Value != "" {
				tm.Text = part.Text.Value
				break
			}
		}
		out = append(out, tm)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func assistantRequest(spec AssistantSpec) openai.AssistantRequest {
	name := spec.Name
	instructions := spec.Instructions
	return openai.AssistantRequest{
		Model:        spec.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        []openai.AssistantTool{{Type: openai.AssistantToolTypeCodeInterpreter}},
	}
}

func (p *OpenAIProvider) CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error) {
	c, err := p.clientFor(ctx)
	if err != nil {
		return "", err
	}
	a, err := c.CreateAssistant(ctx, assistantRequest(spec))
	if err != nil {
		return "", unavailable("create assistant", err)
	}
	return a.ID, nil
}

func (p *OpenAIProvider) UpdateAssistant(ctx context.Context, assistantID string, spec AssistantSpec) error {
	c, err := p.clientFor(ctx)
	if err != nil {
		return err
	}
	if _, err := c.ModifyAssistant(ctx, assistantID, assistantRequest(spec)); err != nil {
		return unavailable("modify assistant", err)
	}
	return nil
}

func (p *OpenAIProvider) DeleteAssistant(ctx context.Context, assistantID string) error {
	c, err := p.clientFor(ctx)
	if err != nil {
		return err
	}
	if _, err := c.DeleteAssistant(ctx, assistantID); err != nil {
		return unavailable("delete assistant", err)
	}
	return nil
}

func toRun(r openai.Run) *Run {
	out := &Run{ID: r.ID, Status: RunStatus(r.Status)}
	if r.LastError != nil {
		out.LastError = r.LastError.Message
	}
	return out
}
