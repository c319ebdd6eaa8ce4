package inject

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

func newTestContexts(t *testing.T) *store.Store {
	t.Helper()
	durable, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), 100)
	require.NoError(t, err)

	s := store.New(durable, config.CacheConfig{
		TTL:         config.Duration(time.Hour),
		MaxEntries:  64,
		MaxMessages: 100,
	}, zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolveCapability(t *testing.T) {
	tests := []struct {
		method string
		want   Capability
	}{
		{"ask_gemini", CapabilityAsk},
		{"mcp__gemini__ask", CapabilityAsk},
		{"gemini_code_review", CapabilityCodeReview},
		{"deep_debug_session", CapabilityDebug},
		{"think_deep", CapabilityThinkDeep},
		{"ANALYZE_this", CapabilityAnalyze},
		{"brainstorm_ideas", CapabilityBrainstorm},
		{"architecture_review", CapabilityArchitecture},
		{"run_tests", CapabilityTest},
		{"refactor_module", CapabilityRefactor},
		{"list_files", CapabilityUnknown},
		{"", CapabilityUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := ResolveCapability(tt.method)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != CapabilityUnknown, got.ContextAware())
		})
	}
}

func TestDetectAI(t *testing.T) {
	tests := []struct {
		method string
		want   string
		ok     bool
	}{
		{"ask_gemini", "gemini", true},
		{"mcp__gemini-server__ask", "gemini", true},
		{"gemini_review", "gemini", true},
		{"ask_grok", "grok", true},
		{"mcp__my-grok__chat", "grok", true},
		{"ask_openai", "openai", true},
		{"ask_chatgpt", "openai", true},
		{"ASK_DEEPSEEK", "deepseek", true},
		{"deepseek_analyze", "deepseek", true},
		{"list_files", "", false},
		{"ask_claude", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, ok := DetectAI(tt.method)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectCommand(t *testing.T) {
	tests := []struct {
		text string
		want Command
		ok   bool
	}{
		{"/clear", Command{Name: CommandClear}, true},
		{"/clear all", Command{Name: CommandClear, Args: "all"}, true},
		{"  /clear gemini  ", Command{Name: CommandClear, Args: "gemini"}, true},
		{"/CLEAR ALL", Command{Name: CommandClear, Args: "ALL"}, true},
		{"/context", Command{Name: CommandContext}, true},
		{"/history openai", Command{Name: CommandHistory, Args: "openai"}, true},
		{"/clearly not a command", Command{}, false},
		{"please /clear this", Command{}, false},
		{"/unknown", Command{}, false},
		{"plain text", Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := DetectCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestInjectPromptForm(t *testing.T) {
	in := NewInjector(newTestContexts(t), zap.NewNop())

	c := store.NewContext("sess-1")
	c.Project = &store.ProjectInfo{Name: "repo-a", Path: "/repo/a"}
	c.Append(store.NewMessage(store.RoleUser, "hi", nil))
	c.Append(store.NewMessage(store.RoleAssistant, "hello, how can I help?", nil))

	req, meta := in.Inject(Request{Prompt: "what did I say?"}, c, "gemini")

	assert.Contains(t, req.Prompt, "[Previous context for GEMINI]")
	assert.Contains(t, req.Prompt, "User: hi")
	assert.Contains(t, req.Prompt, "You: hello, how can I help?")
	assert.Contains(t, req.Prompt, "Project: repo-a")
	assert.Contains(t, req.Prompt, "Current request: what did I say?")
	assert.True(t, strings.Contains(req.Prompt, "[End of previous context]"))

	assert.Equal(t, "sess-1", meta.SessionID)
	assert.Equal(t, 2, meta.MessageCount)
	assert.Equal(t, "gemini", meta.AIName)
}

func TestInjectTruncatesLongMessages(t *testing.T) {
	in := NewInjector(newTestContexts(t), zap.NewNop())

	c := store.NewContext("sess-1")
	long := strings.Repeat("x", 500)
	c.Append(store.NewMessage(store.RoleUser, long, nil))

	req, _ := in.Inject(Request{Prompt: "next"}, c, "gemini")

	assert.Contains(t, req.Prompt, strings.Repeat("x", 200)+"...")
	assert.NotContains(t, req.Prompt, strings.Repeat("x", 201))
}

func TestInjectTruncatesOnRuneBoundaries(t *testing.T) {
	in := NewInjector(newTestContexts(t), zap.NewNop())

	c := store.NewContext("sess-1")
	c.Append(store.NewMessage(store.RoleUser, strings.Repeat("世", 500), nil))

	req, _ := in.Inject(Request{Prompt: "next"}, c, "gemini")

	assert.True(t, utf8.ValidString(req.Prompt))
	assert.Contains(t, req.Prompt, strings.Repeat("世", 200)+"...")
	assert.NotContains(t, req.Prompt, strings.Repeat("世", 201))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"under limit", "short", 10, "short"},
		{"at limit", "exact", 5, "exact"},
		{"over limit", "abcdef", 3, "abc..."},
		{"multibyte under", strings.Repeat("世", 100), 200, strings.Repeat("世", 100)},
		{"multibyte over", strings.Repeat("世", 250), 200, strings.Repeat("世", 200) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestInjectMessagesForm(t *testing.T) {
	in := NewInjector(newTestContexts(t), zap.NewNop())

	c := store.NewContext("sess-1")
	c.Append(store.NewMessage(store.RoleUser, "earlier question", nil))
	c.Append(store.NewMessage(store.RoleAssistant, "earlier answer", nil))

	req, _ := in.Inject(Request{
		Messages: []ChatMessage{{Role: "user", Content: "new question"}},
	}, c, "openai")

	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "OPENAI")
	assert.Equal(t, "earlier question", req.Messages[1].Content)
	assert.Equal(t, "earlier answer", req.Messages[2].Content)
	assert.Equal(t, "new question", req.Messages[3].Content)
}

func TestInjectEmptyContextPassesThrough(t *testing.T) {
	in := NewInjector(newTestContexts(t), zap.NewNop())

	req, meta := in.Inject(Request{Prompt: "hello"}, nil, "gemini")
	assert.Equal(t, "hello", req.Prompt)
	assert.Zero(t, meta.MessageCount)

	req, _ = in.Inject(Request{Prompt: "hello"}, store.NewContext("s"), "gemini")
	assert.Equal(t, "hello", req.Prompt)
}

func TestRoundTripRecoversOriginalPrompt(t *testing.T) {
	contexts := newTestContexts(t)
	in := NewInjector(contexts, zap.NewNop())
	ctx := context.Background()

	c := store.NewContext("sess-1")
	c.Append(store.NewMessage(store.RoleUser, "first question", nil))
	c.Append(store.NewMessage(store.RoleAssistant, "first answer", nil))
	require.NoError(t, contexts.Save(ctx, c))

	original := "what did I say before?"
	sent, _ := in.Inject(Request{Prompt: original}, c, "gemini")
	require.NotEqual(t, original, sent.Prompt)

	in.ExtractAndStore(ctx, "sess-1", "gemini", sent, "you asked a first question")
	contexts.Flush()

	got, ok := contexts.Get(ctx, "sess-1")
	require.True(t, ok)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, original, got.Messages[2].Content)
	assert.Equal(t, store.RoleUser, got.Messages[2].Role)
	assert.Equal(t, "you asked a first question", got.Messages[3].Content)
	assert.Equal(t, store.RoleAssistant, got.Messages[3].Role)
}

func TestThreeTurnConversationAccumulates(t *testing.T) {
	contexts := newTestContexts(t)
	in := NewInjector(contexts, zap.NewNop())
	ctx := context.Background()
	sessionID := "sess-repo-a-gemini"

	prompts := []string{"hi", "what did I say?", "ok"}
	var thirdRequest string
	for i, prompt := range prompts {
		c, ok := contexts.Get(ctx, sessionID)
		if !ok {
			c = store.NewContext(sessionID)
		}
		sent, _ := in.Inject(Request{Prompt: prompt}, c, "gemini")
		if i == 2 {
			thirdRequest = sent.Prompt
		}
		in.ExtractAndStore(ctx, sessionID, "gemini", sent, "reply to "+prompt)
	}
	contexts.Flush()

	got, ok := contexts.Get(ctx, sessionID)
	require.True(t, ok)
	require.Len(t, got.Messages, 6)
	assert.Equal(t, "hi", got.Messages[0].Content)
	assert.Equal(t, "reply to hi", got.Messages[1].Content)
	assert.Equal(t, "what did I say?", got.Messages[2].Content)
	assert.Equal(t, "ok", got.Messages[4].Content)

	assert.Contains(t, thirdRequest, "hi")
}

func TestExtractContent(t *testing.T) {
	tests := []struct {
		name     string
		response any
		want     string
	}{
		{"plain string", "hello", "hello"},
		{"content field", map[string]any{"content": "from content"}, "from content"},
		{"text field", map[string]any{"text": "from text"}, "from text"},
		{"field order", map[string]any{"output": "late", "content": "first"}, "first"},
		{"number field", map[string]any{"result": 42}, "42"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractContent(tt.response))
		})
	}

	// No conventional field: the whole object is serialized.
	got := ExtractContent(map[string]any{"unusual": "shape"})
	assert.Contains(t, got, `"unusual"`)
	assert.Contains(t, got, `"shape"`)
}

func TestExtractAndStoreMessagesForm(t *testing.T) {
	contexts := newTestContexts(t)
	in := NewInjector(contexts, zap.NewNop())
	ctx := context.Background()

	sent := Request{Messages: []ChatMessage{
		{Role: "system", Content: "injected system"},
		{Role: "user", Content: "old question"},
		{Role: "assistant", Content: "old answer"},
		{Role: "user", Content: "the real question"},
	}}
	in.ExtractAndStore(ctx, "sess-1", "openai", sent, "the answer")
	contexts.Flush()

	got, ok := contexts.Get(ctx, "sess-1")
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "the real question", got.Messages[0].Content)
	assert.Equal(t, "the answer", got.Messages[1].Content)
}
