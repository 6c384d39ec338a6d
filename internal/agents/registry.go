package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/db/models"
	"github.com/agentdesk/agentdesk/internal/llm"
	"github.com/agentdesk/agentdesk/internal/sysconfig"
	"github.com/agentdesk/agentdesk/internal/validation"
)

const (
	DefaultTemperature       = 0.7
	DefaultMaxTokens         = 1000
	DefaultThreadExpiryHours = 24
	MaxThreadExpiryHours     = 720

	// syncTimeout bounds each provider-side assistant call.
	syncTimeout = 15 * time.Second
)

// Store persists agent definitions. repositories.AgentRepository satisfies it.
type Store interface {
	CreateAgent(ctx context.Context, a *models.Agent) error
	UpdateAgent(ctx context.Context, a *models.Agent) (bool, error)
	SetAssistantID(ctx context.Context, id, assistantID string) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	DeleteAgent(ctx context.Context, id string) (bool, error)
}

// AssistantManager manages provider-side assistants. llm.Provider satisfies it.
type AssistantManager interface {
	CreateAssistant(ctx context.Context, spec llm.AssistantSpec) (string, error)
	UpdateAssistant(ctx context.Context, assistantID string, spec llm.AssistantSpec) error
	DeleteAssistant(ctx context.Context, assistantID string) error
}

// Settings resolves admin configuration values. sysconfig.Store satisfies it.
type Settings interface {
	Value(ctx context.Context, key string) (string, bool, error)
}

// Input is an agent definition as submitted by an admin. Nil pointers select
// defaults.
type Input struct {
	Name              string               `json:"name"`
	Description       string               `json:"description"`
	Instructions      string               `json:"instructions"`
	Avatar            *string              `json:"avatar,omitempty"`
	Model             string               `json:"model"`
	Temperature       *float64             `json:"temperature,omitempty"`
	MaxTokens         *int                 `json:"max_tokens,omitempty"`
	WebhookURL        *string              `json:"webhook_url,omitempty"`
	AssistantID       *string              `json:"assistant_id,omitempty"`
	ThreadExpiryHours *int                 `json:"thread_expiry_hours,omitempty"`
	CustomFields      []models.CustomField `json:"custom_fields,omitempty"`
}

// definition carries the struct-level rules for a normalized agent.
type definition struct {
	Name              string               `json:"name" validate:"required,max=100"`
	Description       string               `json:"description" validate:"required,max=1000"`
	Instructions      string               `json:"instructions" validate:"required,max=32768"`
	Avatar            string               `json:"avatar" validate:"max=2048"`
	Model             string               `json:"model" validate:"required"`
	Temperature       float64              `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int                  `json:"max_tokens" validate:"gte=1"`
	ThreadExpiryHours int                  `json:"thread_expiry_hours" validate:"gte=1,lte=720"`
	CustomFields      []models.CustomField `json:"custom_fields" validate:"dive"`
}

// Registry is the agent registry.
type Registry struct {
	store         Store
	assistants    AssistantManager
	settings      Settings
	fallbackModel string
	validator     *validation.Validator
}

// NewRegistry creates a registry. assistants may be nil, which disables
// provider-side sync.
func NewRegistry(store Store, assistants AssistantManager) *Registry {
	return &Registry{store: store, assistants: assistants, validator: validation.NewValidator()}
}

// WithDefaults makes omitted models and thread expiries resolve from the
// admin settings first, then fallbackModel, then the built-in defaults.
func (r *Registry) WithDefaults(settings Settings, fallbackModel string) *Registry {
	r.settings = settings
	r.fallbackModel = strings.TrimSpace(fallbackModel)
	return r
}

// DefaultModel returns the model given to definitions that name none.
func (r *Registry) DefaultModel(ctx context.Context) string {
	if v := r.setting(ctx, sysconfig.KeyDefaultModel); v != "" {
		if _, ok := LookupModel(v); ok {
			return v
		}
		slog.Warn("ignoring unknown default model setting", "model", v)
	}
	if r.fallbackModel != "" {
		if _, ok := LookupModel(r.fallbackModel); ok {
			return r.fallbackModel
		}
		slog.Warn("ignoring unknown configured default model", "model", r.fallbackModel)
	}
	return DefaultModel
}

func (r *Registry) defaultThreadExpiry(ctx context.Context) int {
	v := r.setting(ctx, sysconfig.KeyDefaultThreadExpiryHours)
	if v == "" {
		return DefaultThreadExpiryHours
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > MaxThreadExpiryHours {
		slog.Warn("ignoring invalid default thread expiry setting", "value", v)
		return DefaultThreadExpiryHours
	}
	return n
}

func (r *Registry) setting(ctx context.Context, key string) string {
	if r.settings == nil {
		return ""
	}
	v, ok, err := r.settings.Value(ctx, key)
	if err != nil {
		slog.Warn("failed to read setting", "key", key, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Get returns one agent or apperr.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*models.Agent, error) {
	a, err := r.store.GetAgent(ctx, id)
	if err != nil {
		return nil, apperr.Storage("get agent", err)
	}
	if a == nil {
		return nil, fmt.Errorf("agent %s: %w", id, apperr.ErrNotFound)
	}
	return a, nil
}

// List returns every agent, oldest first.
func (r *Registry) List(ctx context.Context) ([]*models.Agent, error) {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, apperr.Storage("list agents", err)
	}
	return agents, nil
}

// Create validates and stores a new agent. When the agent has no binding a
// provider assistant is created for it; failure to do so leaves the agent
// unbound.
func (r *Registry) Create(ctx context.Context, in Input) (*models.Agent, error) {
	a, err := r.build(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := r.store.CreateAgent(ctx, a); err != nil {
		return nil, apperr.Storage("create agent", err)
	}
	slog.Info("agent created", "agent_id", a.ID, "name", a.Name, "strategy", a.Strategy())

	if a.Strategy() == models.StrategyNone {
		r.provisionAssistant(ctx, a)
	}
	return a, nil
}

// Update replaces an agent definition. A definition that names neither a
// webhook nor an assistant keeps the assistant already bound; one that
// switches to a webhook releases it.
func (r *Registry) Update(ctx context.Context, id string, in Input) (*models.Agent, error) {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := r.build(ctx, in)
	if err != nil {
		return nil, err
	}
	a.ID = existing.ID
	a.CreatedAt = existing.CreatedAt
	if a.WebhookURL == nil && a.AssistantID == nil {
		a.AssistantID = existing.AssistantID
	}

	ok, err := r.store.UpdateAgent(ctx, a)
	if err != nil {
		return nil, apperr.Storage("update agent", err)
	}
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, apperr.ErrNotFound)
	}
	slog.Info("agent updated", "agent_id", a.ID, "strategy", a.Strategy())

	if a.WebhookURL != nil && existing.AssistantID != nil {
		r.releaseAssistant(ctx, a.ID, *existing.AssistantID)
	}

	switch a.Strategy() {
	case models.StrategyAssistant:
		r.syncAssistant(ctx, a)
	case models.StrategyNone:
		r.provisionAssistant(ctx, a)
	}
	return a, nil
}

// Delete removes an agent with its threads and transcript. A bound provider
// assistant is deleted best-effort.
func (r *Registry) Delete(ctx context.Context, id string) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	ok, err := r.store.DeleteAgent(ctx, id)
	if err != nil {
		return apperr.Storage("delete agent", err)
	}
	if !ok {
		return fmt.Errorf("agent %s: %w", id, apperr.ErrNotFound)
	}
	slog.Info("agent deleted", "agent_id", id)

	if existing.Strategy() == models.StrategyAssistant {
		r.releaseAssistant(ctx, id, *existing.AssistantID)
	}
	return nil
}

// releaseAssistant deletes a provider assistant, logging failures.
func (r *Registry) releaseAssistant(ctx context.Context, agentID, assistantID string) {
	if r.assistants == nil {
		return
	}
	sctx, cancel := syncContext(ctx)
	defer cancel()
	if err := r.assistants.DeleteAssistant(sctx, assistantID); err != nil {
		slog.Warn("failed to delete provider assistant", "agent_id", agentID, "assistant_id", assistantID, "error", err)
	}
}

func (r *Registry) provisionAssistant(ctx context.Context, a *models.Agent) {
	if r.assistants == nil {
		return
	}
	sctx, cancel := syncContext(ctx)
	defer cancel()

	assistantID, err := r.assistants.CreateAssistant(sctx, specFor(a))
	if err != nil {
		slog.Warn("failed to create provider assistant", "agent_id", a.ID, "error", err)
		return
	}
	if err := r.store.SetAssistantID(sctx, a.ID, assistantID); err != nil {
		slog.Error("failed to record assistant id", "agent_id", a.ID, "assistant_id", assistantID, "error", err)
		return
	}
	a.AssistantID = &assistantID
	slog.Info("provider assistant created", "agent_id", a.ID, "assistant_id", assistantID)
}

func (r *Registry) syncAssistant(ctx context.Context, a *models.Agent) {
	if r.assistants == nil {
		return
	}
	sctx, cancel := syncContext(ctx)
	defer cancel()
	if err := r.assistants.UpdateAssistant(sctx, *a.AssistantID, specFor(a)); err != nil {
		slog.Warn("failed to update provider assistant", "agent_id", a.ID, "assistant_id", *a.AssistantID, "error", err)
	}
}

func syncContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
}

func specFor(a *models.Agent) llm.AssistantSpec {
	return llm.AssistantSpec{Name: a.Name, Instructions: a.Instructions, Model: a.Model}
}

// build normalizes and validates an Input into an unsaved agent.
func (r *Registry) build(ctx context.Context, in Input) (*models.Agent, error) {
	a := &models.Agent{
		Name:              strings.TrimSpace(in.Name),
		Description:       strings.TrimSpace(in.Description),
		Instructions:      strings.TrimSpace(in.Instructions),
		Avatar:            trimmedOrNil(in.Avatar),
		Model:             strings.TrimSpace(in.Model),
		Temperature:       DefaultTemperature,
		MaxTokens:         DefaultMaxTokens,
		WebhookURL:        trimmedOrNil(in.WebhookURL),
		AssistantID:       trimmedOrNil(in.AssistantID),
		CustomFields:      models.CustomFields{},
	}
	if a.Model == "" {
		a.Model = r.DefaultModel(ctx)
	}
	if in.Temperature != nil {
		a.Temperature = *in.Temperature
	}
	if in.MaxTokens != nil {
		a.MaxTokens = *in.MaxTokens
	}
	if in.ThreadExpiryHours != nil {
		a.ThreadExpiryHours = *in.ThreadExpiryHours
	} else {
		a.ThreadExpiryHours = r.defaultThreadExpiry(ctx)
	}
	for _, f := range in.CustomFields {
		a.CustomFields = append(a.CustomFields, models.CustomField{
			Key:   strings.TrimSpace(f.Key),
			Label: strings.TrimSpace(f.Label),
			Value: f.Value,
		})
	}

	if err := r.validate(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *Registry) validate(a *models.Agent) error {
	def := definition{
		Name:              a.Name,
		Description:       a.Description,
		Instructions:      a.Instructions,
		Model:             a.Model,
		Temperature:       a.Temperature,
		MaxTokens:         a.MaxTokens,
		ThreadExpiryHours: a.ThreadExpiryHours,
		CustomFields:      a.CustomFields,
	}
	if a.Avatar != nil {
		def.Avatar = *a.Avatar
	}
	if err := r.validator.Struct(def); err != nil {
		return err
	}

	model, ok := LookupModel(a.Model)
	if !ok {
		return apperr.Invalid("model", fmt.Sprintf("unknown model %q", a.Model))
	}
	if a.MaxTokens > model.ContextWindow {
		return apperr.Invalid("max_tokens", fmt.Sprintf("must be <= %d for %s", model.ContextWindow, model.ID))
	}

	if a.WebhookURL != nil && a.AssistantID != nil {
		return apperr.Invalid("webhook_url", "an agent cannot have both a webhook and an assistant")
	}
	if a.WebhookURL != nil {
		if err := validation.ValidateWebhookURL(*a.WebhookURL); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(a.CustomFields))
	for i, f := range a.CustomFields {
		if _, dup := seen[f.Key]; dup {
			return apperr.Invalid(fmt.Sprintf("custom_fields[%d].key", i), fmt.Sprintf("duplicate key %q", f.Key))
		}
		seen[f.Key] = struct{}{}
	}
	return nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
