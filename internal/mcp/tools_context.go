package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/inject"
	"github.com/fyrsmithlabs/memoryd/internal/session"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

type showContextInput struct {
	AIName      string `json:"ai_name" jsonschema:"required,AI to show context for (gemini/grok/openai/deepseek)"`
	ProjectPath string `json:"project_path,omitempty" jsonschema:"Project directory (default: current working directory)"`
}

type messagePreview struct {
	Role      string `json:"role" jsonschema:"Message author role"`
	Content   string `json:"content" jsonschema:"Message content, truncated"`
	Timestamp string `json:"timestamp" jsonschema:"When the message was stored"`
}

type showContextOutput struct {
	AI           string           `json:"ai" jsonschema:"AI identity"`
	SessionID    string           `json:"session_id,omitempty" jsonschema:"Active session id"`
	MessageCount int              `json:"message_count" jsonschema:"Total stored messages"`
	Messages     []messagePreview `json:"messages,omitempty" jsonschema:"Most recent messages"`
}

type clearContextInput struct {
	AIName      string `json:"ai_name" jsonschema:"required,AI to clear (gemini/grok/openai/deepseek/all)"`
	ProjectPath string `json:"project_path,omitempty" jsonschema:"Project directory (default: current working directory)"`
}

type clearContextOutput struct {
	Status  string `json:"status" jsonschema:"ok or error"`
	Message string `json:"message" jsonschema:"Human-readable confirmation"`
}

type projectInfoInput struct {
	ProjectPath string `json:"project_path,omitempty" jsonschema:"Project directory (default: current working directory)"`
}

type sessionInfo struct {
	AI           string `json:"ai" jsonschema:"AI identity"`
	SessionID    string `json:"session_id" jsonschema:"Session id"`
	Cleared      bool   `json:"cleared" jsonschema:"Whether the session was cleared"`
	LastAccessed string `json:"last_accessed" jsonschema:"Last access time"`
}

type projectInfoOutput struct {
	ProjectID   string        `json:"project_id" jsonschema:"Stable project identifier"`
	ProjectName string        `json:"project_name" jsonschema:"Project directory name"`
	ProjectPath string        `json:"project_path" jsonschema:"Project directory path"`
	Sessions    []sessionInfo `json:"sessions,omitempty" jsonschema:"Per-AI session state"`
	ClearEvents int           `json:"clear_events" jsonschema:"Number of recent clear events"`
}

type dbStatusInput struct{}

type dbStatusOutput struct {
	Conversations int      `json:"conversations" jsonschema:"Stored conversation count"`
	Messages      int      `json:"messages" jsonschema:"Stored message count"`
	CachedEntries int      `json:"cached_entries" jsonschema:"Live cache entries"`
	AvailableAIs  []string `json:"available_ais,omitempty" jsonschema:"Identities with credentials configured"`
	Broadcast     string   `json:"broadcast" jsonschema:"Cross-process broadcast link state"`
}

func (s *Server) registerContextTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "show_context",
		Description: "Show the stored conversation context for an AI in the current project.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args showContextInput) (*mcp.CallToolResult, showContextOutput, error) {
		out, err := s.showContext(ctx, args)
		if err != nil {
			return nil, showContextOutput{}, err
		}
		return textResult(fmt.Sprintf("%d messages stored for %s", out.MessageCount, strings.ToUpper(out.AI))), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_context",
		Description: "Clear AI conversation context for the current project. Pass \"all\" to clear every AI.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args clearContextInput) (*mcp.CallToolResult, clearContextOutput, error) {
		msg, err := s.runClear(ctx, args.AIName, resolveProjectPath(args.ProjectPath))
		if err != nil {
			return nil, clearContextOutput{}, err
		}
		out := clearContextOutput{Status: "ok", Message: msg}
		return textResult(msg), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "project_info",
		Description: "Get project information and per-AI session state.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args projectInfoInput) (*mcp.CallToolResult, projectInfoOutput, error) {
		out, err := s.projectInfo(ctx, resolveProjectPath(args.ProjectPath))
		if err != nil {
			return nil, projectInfoOutput{}, err
		}
		return textResult(fmt.Sprintf("Project %s (%s): %d sessions", out.ProjectName, out.ProjectID, len(out.Sessions))), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "db_status",
		Description: "Report storage, cache and provider health.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args dbStatusInput) (*mcp.CallToolResult, dbStatusOutput, error) {
		out, err := s.dbStatus(ctx)
		if err != nil {
			return nil, dbStatusOutput{}, err
		}
		return textResult(fmt.Sprintf("%d conversations, %d messages, %d cached", out.Conversations, out.Messages, out.CachedEntries)), out, nil
	})
}

func (s *Server) showContext(ctx context.Context, args showContextInput) (showContextOutput, error) {
	aiName := strings.ToLower(strings.TrimSpace(args.AIName))
	if !supportedAI(aiName) {
		return showContextOutput{}, fmt.Errorf("unknown ai %q, expected one of %s", args.AIName, strings.Join(config.SupportedAIs, ", "))
	}

	projectPath := resolveProjectPath(args.ProjectPath)
	sess, err := s.sessions.GetOrCreate(ctx, aiName, projectPath)
	if err != nil {
		return showContextOutput{}, err
	}

	out := showContextOutput{AI: aiName, SessionID: sess.SessionID}
	c, ok := s.contexts.Get(ctx, sess.SessionID)
	if !ok {
		return out, nil
	}

	out.MessageCount = len(c.Messages)
	recent := c.Messages
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, m := range recent {
		out.Messages = append(out.Messages, previewOf(m, 100))
	}
	return out, nil
}

func (s *Server) dbStatus(ctx context.Context) (dbStatusOutput, error) {
	st, cached, err := s.contexts.Stats(ctx)
	if err != nil {
		return dbStatusOutput{}, fmt.Errorf("storage unavailable: %w", err)
	}
	out := dbStatusOutput{
		Conversations: st.Conversations,
		Messages:      st.Messages,
		CachedEntries: cached,
		AvailableAIs:  s.gateway.Available(),
		Broadcast:     "disabled",
	}
	if s.natsStatus != nil {
		out.Broadcast = s.natsStatus()
	}
	return out, nil
}

func (s *Server) projectInfo(ctx context.Context, projectPath string) (projectInfoOutput, error) {
	status, err := s.sessions.Status(ctx, projectPath)
	if err != nil {
		if errors.Is(err, session.ErrProjectNotFound) {
			projectID, idErr := session.ProjectIDFor(projectPath)
			if idErr != nil {
				return projectInfoOutput{}, idErr
			}
			return projectInfoOutput{ProjectID: projectID, ProjectPath: projectPath}, nil
		}
		return projectInfoOutput{}, err
	}

	out := projectInfoOutput{
		ProjectID:   status.Project.ID,
		ProjectName: status.Project.Name,
		ProjectPath: status.Project.Path,
		ClearEvents: len(status.ClearEvents),
	}
	for _, sess := range status.Sessions {
		out.Sessions = append(out.Sessions, sessionInfo{
			AI:           sess.AIName,
			SessionID:    sess.SessionID,
			Cleared:      sess.Cleared,
			LastAccessed: sess.LastAccessed.Format("2006-01-02 15:04:05"),
		})
	}
	return out, nil
}

// contextPreview renders a plain-text view of an AI's stored context, used
// by the /context and /history commands.
func (s *Server) contextPreview(ctx context.Context, aiName, projectPath string, charCap int) (string, error) {
	if !supportedAI(aiName) {
		return fmt.Sprintf("Unknown AI: %s. Use one of %s", aiName, strings.Join(config.SupportedAIs, ", ")), nil
	}

	sess, err := s.sessions.GetOrCreate(ctx, aiName, projectPath)
	if err != nil {
		return "", err
	}

	c, ok := s.contexts.Get(ctx, sess.SessionID)
	if !ok || len(c.Messages) == 0 {
		return fmt.Sprintf("No stored context for %s in this project", strings.ToUpper(aiName)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context for %s (%d messages):\n", strings.ToUpper(aiName), len(c.Messages))
	recent := c.Messages
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, m := range recent {
		p := previewOf(m, charCap)
		fmt.Fprintf(&b, "[%s] %s: %s\n", p.Timestamp, p.Role, p.Content)
	}
	return b.String(), nil
}

func previewOf(m store.Message, charCap int) messagePreview {
	return messagePreview{
		Role:      string(m.Role),
		Content:   inject.Truncate(m.Content, charCap),
		Timestamp: m.Timestamp.Format("2006-01-02 15:04:05"),
	}
}

func supportedAI(name string) bool {
	for _, ai := range config.SupportedAIs {
		if ai == name {
			return true
		}
	}
	return false
}
