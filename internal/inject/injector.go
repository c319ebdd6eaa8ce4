package inject

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Injection delimiters. Extraction locates these to recover the user's
// original text from a rewritten prompt.
const (
	summaryHeader  = "[Previous context for "
	summaryFooter  = "[End of previous context]"
	requestPrefix  = "Current request:"
	summaryWindow  = 10  // messages summarized into a prompt
	summaryCharCap = 200 // per-message character budget in the summary
	rawWindow      = 20  // raw messages prepended to a message array
)

// ChatMessage is one entry of a message-array request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is an outgoing AI payload: exactly one of Prompt or Messages
// is populated. A zero Temperature means provider default.
type Request struct {
	Prompt      string
	Messages    []ChatMessage
	Temperature float64
}

// Bookkeeping is attached to an injected request for the extraction step.
// It is never forwarded to the AI gateway.
type Bookkeeping struct {
	AIName       string
	SessionID    string
	MessageCount int
	Project      *store.ProjectInfo
}

// Injector rewrites outgoing requests with prior context and stores both
// turns after the response arrives.
type Injector struct {
	contexts *store.Store
	logger   *zap.Logger
}

func NewInjector(contexts *store.Store, logger *zap.Logger) *Injector {
	return &Injector{contexts: contexts, logger: logger.Named("inject")}
}

// Inject rewrites req with a summary or raw slice of c's history. A nil
// or empty context degrades to no injection; the request passes through
// unchanged apart from bookkeeping.
func (in *Injector) Inject(req Request, c *store.Context, aiName string) (Request, Bookkeeping) {
	meta := Bookkeeping{AIName: aiName}
	if c != nil {
		meta.SessionID = c.SessionID
		meta.MessageCount = len(c.Messages)
		meta.Project = c.Project
	}
	if c == nil || len(c.Messages) == 0 {
		return req, meta
	}

	switch {
	case req.Prompt != "":
		req.Prompt = buildSummary(c, aiName) + "\n\n" + requestPrefix + " " + req.Prompt
	case len(req.Messages) > 0:
		req.Messages = append(chatHistory(c, aiName), req.Messages...)
	}
	return req, meta
}

// buildSummary renders the bounded textual form of prior context: project
// descriptor plus the most recent turns, each truncated to a fixed budget.
func buildSummary(c *store.Context, aiName string) string {
	var b strings.Builder
	b.WriteString(summaryHeader + strings.ToUpper(aiName) + "]\n")
	b.WriteString("You have been working on this project before. Here's what you should remember:\n")

	if c.Project != nil {
		fmt.Fprintf(&b, "\nProject: %s\nPath: %s\n", c.Project.Name, c.Project.Path)
		if len(c.Project.WorkingFiles) > 0 {
			files := c.Project.WorkingFiles
			if len(files) > 5 {
				files = files[:5]
			}
			fmt.Fprintf(&b, "Files you've worked with: %s\n", strings.Join(files, ", "))
		}
	}

	recent := c.Messages
	if len(recent) > summaryWindow {
		recent = recent[len(recent)-summaryWindow:]
	}
	b.WriteString("\nRecent conversation:\n")
	for _, msg := range recent {
		who := "User"
		if msg.Role == store.RoleAssistant {
			who = "You"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, Truncate(msg.Content, summaryCharCap))
	}

	b.WriteString("\n" + summaryFooter)
	return b.String()
}

// Truncate caps s at limit characters, appending an ellipsis when cut.
// The budget counts runes, not bytes, so multibyte content is never cut
// mid-character.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// chatHistory renders prior context for message-array requests: one
// synthesized system message plus the most recent raw turns.
func chatHistory(c *store.Context, aiName string) []ChatMessage {
	system := fmt.Sprintf("You are %s assisting with a software project. "+
		"You have previous context from earlier conversations that you should consider.",
		strings.ToUpper(aiName))
	if c.Project != nil {
		system += fmt.Sprintf("\n\nProject: %s\nPath: %s", c.Project.Name, c.Project.Path)
	}

	history := []ChatMessage{{Role: string(store.RoleSystem), Content: system}}
	recent := c.Messages
	if len(recent) > rawWindow {
		recent = recent[len(recent)-rawWindow:]
	}
	for _, msg := range recent {
		history = append(history, ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return history
}

// ExtractAndStore recovers the user's pre-injection text from the sent
// request, extracts the response's textual payload, and appends both
// turns to the session. The response has already been returned to the
// caller; a failure here only costs this turn's presence in future
// context, so errors are logged rather than propagated.
func (in *Injector) ExtractAndStore(ctx context.Context, sessionID, aiName string, sent Request, response any) {
	userText := recoverOriginal(sent)
	if userText != "" {
		_, err := in.contexts.AppendMessage(ctx, sessionID, store.RoleUser, userText, map[string]any{
			"ai_name": aiName,
		})
		if err != nil {
			in.logger.Warn("store user turn failed",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
	}

	if text := ExtractContent(response); text != "" {
		_, err := in.contexts.AppendMessage(ctx, sessionID, store.RoleAssistant, text, map[string]any{
			"ai_name": aiName,
		})
		if err != nil {
			in.logger.Warn("store assistant turn failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// recoverOriginal strips the injected summary from a sent request,
// returning the user's original text.
func recoverOriginal(sent Request) string {
	if sent.Prompt != "" {
		text := sent.Prompt
		if strings.Contains(text, summaryHeader) {
			if _, after, found := strings.Cut(text, summaryFooter); found {
				text = strings.TrimSpace(after)
			}
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, requestPrefix))
		return text
	}

	// Message-array form: injected history precedes the caller's messages,
	// so the original request is the last user-authored entry.
	for i := len(sent.Messages) - 1; i >= 0; i-- {
		if sent.Messages[i].Role == string(store.RoleUser) {
			return sent.Messages[i].Content
		}
	}
	return ""
}

// ExtractContent pulls the textual payload out of a response of unknown
// shape: plain text as-is, structured objects inspected for conventional
// field names in a fixed order, anything else serialized whole.
func ExtractContent(response any) string {
	switch v := response.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		for _, field := range []string{"content", "text", "message", "result", "output"} {
			if val, ok := v[field]; ok {
				if s, ok := val.(string); ok {
					return s
				}
				return fmt.Sprintf("%v", val)
			}
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}
