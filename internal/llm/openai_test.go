package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/apperr"
)

// staticKeys is a KeySource backed by a map.
type staticKeys struct {
	mu   sync.Mutex
	vals map[string]string
	err  error
}

func (s *staticKeys) Value(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.vals[key]
	return v, ok, nil
}

func (s *staticKeys) set(key, value string) {
	s.mu.Lock()
	s.vals[key] = value
	s.mu.Unlock()
}

// fakeOpenAI records the bearer tokens it sees and serves a minimal subset
// of the Assistants API.
type fakeOpenAI struct {
	mu     sync.Mutex
	tokens []string
	paths  []string
	query  []string
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokens = append(f.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.query = append(f.query, r.URL.RawQuery)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/threads":
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "thread_abc", "object": "thread", "created_at": 1})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/threads/thread_abc/messages":
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{
					"id": "msg_old", "object": "thread.message", "created_at": 10, "role": "assistant",
					"content": []map[string]interface{}{{"type": "text", "text": map[string]interface{}{"value": "older", "annotations": []interface{}{}}}},
				},
				{
					"id": "msg_new", "object": "thread.message", "created_at": 20, "role": "assistant",
					"content": []map[string]interface{}{{"type": "text", "text": map[string]interface{}{"value": "newer", "annotations": []interface{}{}}}},
				},
			},
			"has_more": false,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"not found","type":"invalid_request_error"}}`))
	}
}

func newTestOpenAI(t *testing.T, keys KeySource, fallback string) (*fakeOpenAI, *OpenAIProvider) {
	t.Helper()
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, NewOpenAIProvider(keys, fallback, srv.URL+"/v1")
}

// ---------------------------------------------------------------------------
// key resolution
// ---------------------------------------------------------------------------

func TestOpenAI_NoKey(t *testing.T) {
	_, p := newTestOpenAI(t, &staticKeys{vals: map[string]string{}}, "")
	_, err := p.CreateThread(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAgentUnavailable)
	assert.Contains(t, err.Error(), ErrNotConfigured.Error())
}

func TestOpenAI_KeySourceError(t *testing.T) {
	_, p := newTestOpenAI(t, &staticKeys{err: errors.New("db down")}, "sk-fallback")
	_, err := p.CreateThread(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAgentUnavailable)
}

func TestOpenAI_FallbackKey(t *testing.T) {
	fake, p := newTestOpenAI(t, nil, "sk-fallback")
	id, err := p.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", id)
	assert.Equal(t, []string{"sk-fallback"}, fake.tokens)
}

func TestOpenAI_StoredKeyWinsAndRotates(t *testing.T) {
	keys := &staticKeys{vals: map[string]string{APIKeyConfigKey: "sk-one"}}
	fake, p := newTestOpenAI(t, keys, "sk-fallback")

	_, err := p.CreateThread(context.Background())
	require.NoError(t, err)
	first := p.client

	_, err = p.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, p.client, "client should be reused while the key is unchanged")

	keys.set(APIKeyConfigKey, "sk-two")
	_, err = p.CreateThread(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, p.client)

	assert.Equal(t, []string{"sk-one", "sk-one", "sk-two"}, fake.tokens)
}

// ---------------------------------------------------------------------------
// ListRunMessages / errors
// ---------------------------------------------------------------------------

func TestOpenAI_ListRunMessagesNewestFirst(t *testing.T) {
	fake, p := newTestOpenAI(t, nil, "sk-test")
	msgs, err := p.ListRunMessages(context.Background(), "thread_abc", "run_9")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg_new", msgs[0].ID)
	assert.Equal(t, "newer", msgs[0].Text)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Contains(t, fake.query[0], "run_id=run_9")
}

func TestOpenAI_APIErrorIsUnavailable(t *testing.T) {
	_, p := newTestOpenAI(t, nil, "sk-test")
	err := p.DeleteThread(context.Background(), "thread_missing")
	assert.ErrorIs(t, err, apperr.ErrAgentUnavailable)
}
