package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/apperr"
	"github.com/agentdesk/agentdesk/internal/sysconfig"
)

type fakeConfigStore struct {
	entries map[string]sysconfig.Entry
	reveal  bool
	setErr  error
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{entries: map[string]sysconfig.Entry{
		"default_model":  {Key: "default_model", Value: "gpt-4o-mini"},
		"openai_api_key": {Key: "openai_api_key", Value: "sk-live", IsSensitive: true},
	}}
}

func (f *fakeConfigStore) Get(_ context.Context, key string) (*sysconfig.Entry, error) {
	e, ok := f.entries[key]
	if !ok {
		return nil, fmt.Errorf("config %q: %w", key, apperr.ErrNotFound)
	}
	return &e, nil
}

func (f *fakeConfigStore) Set(_ context.Context, key, value string, description *string, sensitive *bool) (*sysconfig.Entry, error) {
	if f.setErr != nil {
		return nil, f.setErr
	}
	e := f.entries[key]
	e.Key, e.Value = key, value
	if description != nil {
		e.Description = *description
	}
	if sensitive != nil {
		e.IsSensitive = *sensitive
	}
	f.entries[key] = e
	return &e, nil
}

func (f *fakeConfigStore) Delete(_ context.Context, key string) error {
	if _, ok := f.entries[key]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeConfigStore) List(_ context.Context, reveal bool) ([]sysconfig.Entry, error) {
	f.reveal = reveal
	return []sysconfig.Entry{f.entries["default_model"]}, nil
}

func newConfigRouter(store *fakeConfigStore, isAdmin bool) *gin.Engine {
	h := NewConfigHandlers(store)
	r := gin.New()
	r.Use(withScopes(isAdmin))
	r.GET("/config", h.ListConfig)
	r.GET("/config/:key", h.GetConfig)
	r.PUT("/config/:key", h.SetConfig)
	r.DELETE("/config/:key", h.DeleteConfig)
	return r
}

func TestListConfig_RevealRequiresManageScope(t *testing.T) {
	tests := []struct {
		name    string
		isAdmin bool
		query   string
		want    bool
	}{
		{"admin without reveal", true, "", false},
		{"admin with reveal", true, "?reveal=true", true},
		{"non-admin with reveal", false, "?reveal=true", false},
		{"admin with junk reveal", true, "?reveal=maybe", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeConfigStore()
			w := httptest.NewRecorder()
			newConfigRouter(store, tt.isAdmin).ServeHTTP(w, httptest.NewRequest("GET", "/config"+tt.query, nil))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, store.reveal)
		})
	}
}

func TestGetConfig_MasksSensitive(t *testing.T) {
	r := newConfigRouter(newFakeConfigStore(), true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/config/openai_api_key", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sysconfig.Mask, getJSON(w)["value"])
	assert.Equal(t, true, getJSON(w)["masked"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/config/openai_api_key?reveal=true", nil))
	assert.Equal(t, "sk-live", getJSON(w)["value"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/config/default_model", nil))
	assert.Equal(t, "gpt-4o-mini", getJSON(w)["value"])
}

func TestGetConfig_NotFound(t *testing.T) {
	w := httptest.NewRecorder()
	newConfigRouter(newFakeConfigStore(), true).ServeHTTP(w, httptest.NewRequest("GET", "/config/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetConfig(t *testing.T) {
	store := newFakeConfigStore()
	r := newConfigRouter(store, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/config/openai_api_key", jsonBody(map[string]string{"value": "sk-new"})))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sysconfig.Mask, getJSON(w)["value"], "response must not echo a sensitive value")
	assert.Equal(t, "sk-new", store.entries["openai_api_key"].Value)
}

func TestSetConfig_EmptyValueAllowed(t *testing.T) {
	store := newFakeConfigStore()
	w := httptest.NewRecorder()
	newConfigRouter(store, true).ServeHTTP(w, httptest.NewRequest("PUT", "/config/default_model", jsonBody(map[string]string{"value": ""})))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", store.entries["default_model"].Value)
}

func TestSetConfig_MissingValue(t *testing.T) {
	w := httptest.NewRecorder()
	newConfigRouter(newFakeConfigStore(), true).ServeHTTP(w, httptest.NewRequest("PUT", "/config/default_model", jsonBody(map[string]string{"description": "x"})))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetConfig_InvalidKey(t *testing.T) {
	store := newFakeConfigStore()
	store.setErr = apperr.Invalid("key", "must be 1-128 lowercase letters")
	w := httptest.NewRecorder()
	newConfigRouter(store, true).ServeHTTP(w, httptest.NewRequest("PUT", "/config/BAD", jsonBody(map[string]string{"value": "x"})))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteConfig(t *testing.T) {
	store := newFakeConfigStore()
	r := newConfigRouter(store, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/config/default_model", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/config/default_model", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
