// Package llm talks to the two reply backends an agent can be bound to: an
// external webhook that answers synchronously, and the OpenAI Assistants API
// (threads, runs and provider-side assistants).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentdesk/agentdesk/internal/apperr"
)

// DefaultWebhookTimeout bounds a webhook exchange end to end
const DefaultWebhookTimeout = 30 * time.Second

// maxWebhookBody caps how much of a webhook response is read
const maxWebhookBody = 1 << 20

// WebhookRequest is the JSON body posted to an agent webhook
type WebhookRequest struct {
	Message   string    `json:"message"`
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookClient posts user messages to agent webhooks
type WebhookClient struct {
	HTTPClient *http.Client
}

// NewWebhookClient creates a webhook client with the given timeout
func NewWebhookClient(timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookClient{HTTPClient: &http.Client{Timeout: timeout}}
}

// Send posts req to url and returns the reply text. Transport failures,
// non-2xx statuses, undecodable bodies and bodies with no usable reply field
// are all reported as apperr.ErrAgentUnavailable; a timeout as apperr.ErrTimeout.
func (c *WebhookClient) Send(ctx context.Context, url string, req WebhookRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode webhook request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create webhook request: %v", apperr.ErrAgentUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", fmt.Errorf("%w: webhook: %v", apperr.ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: webhook request failed: %v", apperr.ErrAgentUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read webhook response: %v", apperr.ErrAgentUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: webhook returned status %d: %s", apperr.ErrAgentUnavailable, resp.StatusCode, truncate(string(raw), 200))
	}

	reply, ok := ExtractWebhookReply(raw)
	if !ok {
		return "", fmt.Errorf("%w: webhook response has no reply field", apperr.ErrAgentUnavailable)
	}
	return reply, nil
}

// ExtractWebhookReply returns the first non-empty string among the message,
// response and text fields of a JSON object.
func ExtractWebhookReply(raw []byte) (string, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", false
	}
	for _, field := range []string{"message", "response", "text"} {
		if s, ok := payload[field].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() == context.DeadlineExceeded {
		return true
	}
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
