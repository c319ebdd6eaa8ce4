// Package gateway performs the outbound network calls to AI providers
// and normalizes their responses.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/inject"
)

// Failure kinds, so callers can apply different fallback policy per kind
// instead of one catch-all.
var (
	// ErrNotConfigured means the identity has no API key set.
	ErrNotConfigured = errors.New("ai not configured")

	// ErrUnavailable covers transient trouble: network failure, timeout,
	// throttling, provider 5xx.
	ErrUnavailable = errors.New("ai service unavailable")

	// ErrRejected covers permanent refusals such as a bad request or an
	// invalid key; retrying the same call will not help.
	ErrRejected = errors.New("ai request rejected")
)

// Response is the normalized reply from any provider.
type Response struct {
	AI      string         `json:"ai"`
	Model   string         `json:"model"`
	Content string         `json:"content"`
	Usage   map[string]any `json:"usage,omitempty"`
}

// Gateway dispatches requests to configured AI providers over HTTP.
type Gateway struct {
	providers map[string]config.ProviderConfig
	client    *http.Client
	logger    *zap.Logger
}

func New(cfg config.GatewayConfig, logger *zap.Logger) *Gateway {
	return &Gateway{
		providers: cfg.Providers,
		client:    &http.Client{Timeout: cfg.Timeout.Duration()},
		logger:    logger.Named("gateway"),
	}
}

// Available lists the identities with credentials, in canonical order.
func (g *Gateway) Available() []string {
	var names []string
	for _, ai := range config.SupportedAIs {
		if p, ok := g.providers[ai]; ok && p.APIKey.IsSet() {
			names = append(names, ai)
		}
	}
	return names
}

// Dispatch sends the payload to one provider and returns the normalized
// response. The request carries the client's timeout as an upper bound on
// wait; exceeding it surfaces as ErrUnavailable.
func (g *Gateway) Dispatch(ctx context.Context, aiName string, req inject.Request) (*Response, error) {
	p, ok := g.providers[aiName]
	if !ok || !p.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, aiName)
	}

	var (
		endpoint string
		body     any
		bearer   bool
	)
	switch aiName {
	case "gemini":
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
			p.BaseURL, p.Model, url.QueryEscape(p.APIKey.Value()))
		body = buildGeminiBody(req)
	case "deepseek":
		endpoint = p.BaseURL + "/chat/completions"
		body = buildChatBody(p.Model, req)
		bearer = true
	default:
		endpoint = p.BaseURL + "/v1/chat/completions"
		body = buildChatBody(p.Model, req)
		bearer = true
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey.Value())
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger.Warn("provider call failed", zap.String("ai", aiName), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, aiName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %v", ErrUnavailable, aiName, err)
	}

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("provider returned error status",
			zap.String("ai", aiName),
			zap.Int("status", resp.StatusCode))
		kind := ErrRejected
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = ErrUnavailable
		}
		return nil, fmt.Errorf("%w: %s: status %d", kind, aiName, resp.StatusCode)
	}

	content, usage, err := parseProviderResponse(aiName, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRejected, aiName, err)
	}

	return &Response{AI: aiName, Model: p.Model, Content: content, Usage: usage}, nil
}

// buildGeminiBody renders the generateContent shape. Assistant turns map
// to the "model" role; system turns fold into user turns, which is the
// closest the API offers without a separate system-instruction field.
func buildGeminiBody(req inject.Request) map[string]any {
	var contents []map[string]any
	if req.Prompt != "" {
		contents = append(contents, map[string]any{
			"parts": []map[string]any{{"text": req.Prompt}},
		})
	} else {
		for _, m := range req.Messages {
			role := "user"
			if m.Role == "assistant" {
				role = "model"
			}
			contents = append(contents, map[string]any{
				"role":  role,
				"parts": []map[string]any{{"text": m.Content}},
			})
		}
	}
	return map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     temperature(req),
			"maxOutputTokens": 2048,
		},
	}
}

func temperature(req inject.Request) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return 0.7
}

// buildChatBody renders the OpenAI-compatible chat/completions shape used
// by openai, grok and deepseek.
func buildChatBody(model string, req inject.Request) map[string]any {
	messages := req.Messages
	if len(messages) == 0 {
		messages = []inject.ChatMessage{{Role: "user", Content: req.Prompt}}
	}
	return map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature(req),
		"max_tokens":  2048,
	}
}

func parseProviderResponse(aiName string, data []byte) (string, map[string]any, error) {
	if aiName == "gemini" {
		var parsed struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			} `json:"candidates"`
			UsageMetadata map[string]any `json:"usageMetadata"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", nil, fmt.Errorf("decode response: %v", err)
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return "", nil, errors.New("empty candidates")
		}
		return parsed.Candidates[0].Content.Parts[0].Text, parsed.UsageMetadata, nil
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", nil, fmt.Errorf("decode response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil, errors.New("empty choices")
	}
	return parsed.Choices[0].Message.Content, parsed.Usage, nil
}
