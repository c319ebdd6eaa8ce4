package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/inject"
)

func newGateway(providers map[string]config.ProviderConfig) *Gateway {
	return New(config.GatewayConfig{
		Timeout:   config.Duration(5 * time.Second),
		Providers: providers,
	}, zap.NewNop())
}

func TestDispatchNotConfigured(t *testing.T) {
	g := newGateway(map[string]config.ProviderConfig{
		"gemini": {BaseURL: "http://invalid", Model: "gemini-2.0-flash"},
	})

	_, err := g.Dispatch(context.Background(), "gemini", inject.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = g.Dispatch(context.Background(), "openai", inject.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDispatchGemini(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "hello from gemini"}},
				},
			}},
			"usageMetadata": map[string]any{"totalTokenCount": 12},
		})
	}))
	defer srv.Close()

	g := newGateway(map[string]config.ProviderConfig{
		"gemini": {BaseURL: srv.URL, APIKey: config.Secret("k123"), Model: "gemini-2.0-flash"},
	})

	resp, err := g.Dispatch(context.Background(), "gemini", inject.Request{Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "k123", gotKey)
	assert.Contains(t, gotBody, "contents")
	assert.Equal(t, "hello from gemini", resp.Content)
	assert.Equal(t, "gemini", resp.AI)
	assert.NotNil(t, resp.Usage)
}

func TestDispatchOpenAICompatible(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"content": "hello from openai"},
			}},
			"usage": map[string]any{"total_tokens": 9},
		})
	}))
	defer srv.Close()

	g := newGateway(map[string]config.ProviderConfig{
		"openai": {BaseURL: srv.URL, APIKey: config.Secret("k456"), Model: "gpt-4o"},
	})

	resp, err := g.Dispatch(context.Background(), "openai", inject.Request{
		Messages: []inject.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer k456", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "gpt-4o", gotBody["model"])
	assert.Equal(t, "hello from openai", resp.Content)
}

func TestDispatchDeepseekPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"content": "ok"},
			}},
		})
	}))
	defer srv.Close()

	g := newGateway(map[string]config.ProviderConfig{
		"deepseek": {BaseURL: srv.URL, APIKey: config.Secret("k"), Model: "deepseek-chat"},
	})

	_, err := g.Dispatch(context.Background(), "deepseek", inject.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "/chat/completions", gotPath)
}

func TestDispatchErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"server error is transient", http.StatusInternalServerError, ErrUnavailable},
		{"throttling is transient", http.StatusTooManyRequests, ErrUnavailable},
		{"bad request is permanent", http.StatusBadRequest, ErrRejected},
		{"bad key is permanent", http.StatusUnauthorized, ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			g := newGateway(map[string]config.ProviderConfig{
				"openai": {BaseURL: srv.URL, APIKey: config.Secret("k"), Model: "gpt-4o"},
			})
			_, err := g.Dispatch(context.Background(), "openai", inject.Request{Prompt: "hi"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDispatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g := New(config.GatewayConfig{
		Timeout: config.Duration(20 * time.Millisecond),
		Providers: map[string]config.ProviderConfig{
			"openai": {BaseURL: srv.URL, APIKey: config.Secret("k"), Model: "gpt-4o"},
		},
	}, zap.NewNop())

	_, err := g.Dispatch(context.Background(), "openai", inject.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDispatchMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	g := newGateway(map[string]config.ProviderConfig{
		"grok": {BaseURL: srv.URL, APIKey: config.Secret("k"), Model: "grok-3"},
	})

	_, err := g.Dispatch(context.Background(), "grok", inject.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestAvailable(t *testing.T) {
	g := newGateway(map[string]config.ProviderConfig{
		"gemini":   {APIKey: config.Secret("k")},
		"openai":   {},
		"deepseek": {APIKey: config.Secret("k")},
	})
	assert.Equal(t, []string{"gemini", "deepseek"}, g.Available())
}

func TestPromptBuilders(t *testing.T) {
	review := CodeReviewPrompt("func main() {}", "")
	assert.Contains(t, review, "focus on general")
	assert.Contains(t, review, "func main() {}")

	debug := DebugPrompt("nil pointer", "x.Do()")
	assert.Contains(t, debug, "Error: nil pointer")
	assert.Contains(t, debug, "x.Do()")

	brainstorm := BrainstormPrompt("caching", "no redis")
	assert.Contains(t, brainstorm, "caching")
	assert.Contains(t, brainstorm, "Constraints: no redis")

	analyze := AnalyzePrompt("select {}", "performance")
	assert.Contains(t, analyze, "performance")
}
