package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/gateway"
	"github.com/fyrsmithlabs/memoryd/internal/inject"
	"github.com/fyrsmithlabs/memoryd/internal/session"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

type askInput struct {
	Prompt      string  `json:"prompt" jsonschema:"required,The question or request to send"`
	ProjectPath string  `json:"project_path,omitempty" jsonschema:"Project directory scoping the conversation (default: current working directory)"`
	Temperature float64 `json:"temperature,omitempty" jsonschema:"Sampling temperature (default: 0.7)"`
}

type askOutput struct {
	Response        string `json:"response" jsonschema:"The AI's reply"`
	AI              string `json:"ai" jsonschema:"AI identity that answered"`
	Model           string `json:"model,omitempty" jsonschema:"Model that served the request"`
	SessionID       string `json:"session_id,omitempty" jsonschema:"Session the exchange was stored under"`
	ContextMessages int    `json:"context_messages" jsonschema:"Number of prior messages injected"`
}

func (s *Server) registerAskTools() {
	for _, ai := range config.SupportedAIs {
		name := "ask_" + ai
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        name,
			Description: fmt.Sprintf("Ask %s a question with persistent per-project conversation memory. Prior exchanges for this project are injected automatically.", strings.ToUpper(ai)),
		}, func(ctx context.Context, req *mcp.CallToolRequest, args askInput) (*mcp.CallToolResult, askOutput, error) {
			out, err := s.ask(ctx, name, args)
			if err != nil {
				return nil, askOutput{}, err
			}
			return textResult(out.Response), out, nil
		})
	}
}

// ask runs the full pipeline for one tool call. The AI identity and the
// operation are both resolved from the method name, so every tool that
// matches an identity pattern shares this path: command check, session
// resolve, context load, inject, dispatch, extract and store.
func (s *Server) ask(ctx context.Context, method string, args askInput) (askOutput, error) {
	if args.Prompt == "" {
		return askOutput{}, errors.New("prompt is required")
	}
	aiName, ok := inject.DetectAI(method)
	if !ok {
		return askOutput{}, fmt.Errorf("method %q does not target a known AI", method)
	}
	capability := inject.ResolveCapability(method)
	projectPath := resolveProjectPath(args.ProjectPath)

	if cmd, ok := inject.DetectCommand(args.Prompt); ok {
		msg, err := s.runCommand(ctx, cmd, aiName, projectPath)
		if err != nil {
			return askOutput{}, err
		}
		return askOutput{Response: msg, AI: aiName}, nil
	}

	// A session failure degrades to a memoryless call rather than
	// failing it. An answer without prior context beats no answer.
	var sessionID string
	var c *store.Context
	sess, err := s.sessions.GetOrCreate(ctx, aiName, projectPath)
	if err != nil {
		s.logger.Warn("session resolve failed, proceeding without context",
			zap.String("ai", aiName), zap.Error(err))
	} else {
		sessionID = sess.SessionID
		var ok bool
		c, ok = s.contexts.Get(ctx, sessionID)
		if !ok {
			c = store.NewContext(sessionID)
			c.Project = &store.ProjectInfo{
				Name: filepath.Base(projectPath),
				Path: projectPath,
			}
			if err := s.contexts.Save(ctx, c); err != nil {
				s.logger.Warn("initialize context failed", zap.Error(err))
			}
		}
	}

	sent := inject.Request{
		Prompt:      args.Prompt,
		Temperature: args.Temperature,
	}
	var meta inject.Bookkeeping
	if capability.ContextAware() {
		sent, meta = s.injector.Inject(sent, c, aiName)
	}

	s.logger.Debug("dispatching",
		zap.String("ai", aiName),
		zap.String("capability", capability.String()),
		zap.Int("context_messages", meta.MessageCount))
	resp, err := s.gateway.Dispatch(ctx, aiName, sent)
	if err != nil {
		// The user turn is still worth remembering when the provider
		// call fails; only the assistant turn is lost.
		if sessionID != "" && !errors.Is(err, gateway.ErrNotConfigured) {
			s.injector.ExtractAndStore(ctx, sessionID, aiName, sent, nil)
		}
		aiRequests.WithLabelValues(aiName, "error").Inc()
		return askOutput{}, err
	}

	if sessionID != "" {
		s.injector.ExtractAndStore(ctx, sessionID, aiName, sent, resp.Content)
	}

	aiRequests.WithLabelValues(aiName, "ok").Inc()
	if meta.MessageCount > 0 {
		contextInjections.WithLabelValues(aiName).Inc()
	}

	return askOutput{
		Response:        resp.Content,
		AI:              aiName,
		Model:           resp.Model,
		SessionID:       sessionID,
		ContextMessages: meta.MessageCount,
	}, nil
}

// runCommand executes a slash command found in the prompt.
func (s *Server) runCommand(ctx context.Context, cmd inject.Command, aiName, projectPath string) (string, error) {
	switch cmd.Name {
	case inject.CommandClear:
		return s.runClear(ctx, cmd.Args, projectPath)
	case inject.CommandContext:
		target := strings.ToLower(strings.TrimSpace(cmd.Args))
		if target == "" {
			target = aiName
		}
		return s.contextPreview(ctx, target, projectPath, 100)
	case inject.CommandHistory:
		target := strings.ToLower(strings.TrimSpace(cmd.Args))
		if target == "" {
			target = aiName
		}
		return s.contextPreview(ctx, target, projectPath, 500)
	default:
		return "", fmt.Errorf("unknown command %q", cmd.Name)
	}
}

// runClear clears one AI's context, or all of them.
func (s *Server) runClear(ctx context.Context, args, projectPath string) (string, error) {
	target := strings.ToLower(strings.TrimSpace(args))

	if target == "" || target == "all" {
		if _, err := s.sessions.ClearAll(ctx, projectPath, "user_command"); err != nil {
			return "", fmt.Errorf("clear all contexts: %w", err)
		}
		clearsTotal.WithLabelValues("all").Inc()
		return "Cleared context for all AIs in this project", nil
	}

	var aiName string
	for _, ai := range config.SupportedAIs {
		if strings.Contains(target, ai) {
			aiName = ai
			break
		}
	}
	if aiName == "" {
		return fmt.Sprintf("Unknown AI: %s. Use /clear all or /clear [%s]",
			target, strings.Join(config.SupportedAIs, "|")), nil
	}

	if _, err := s.sessions.Clear(ctx, aiName, projectPath, "user_command"); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return fmt.Sprintf("No active context for %s in this project", strings.ToUpper(aiName)), nil
		}
		return "", fmt.Errorf("clear context: %w", err)
	}
	clearsTotal.WithLabelValues(aiName).Inc()
	return "Cleared context for " + strings.ToUpper(aiName), nil
}

func resolveProjectPath(path string) string {
	if path != "" {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
