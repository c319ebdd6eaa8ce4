package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/gateway"
)

type codeReviewInput struct {
	Code        string `json:"code" jsonschema:"required,Code to review"`
	Focus       string `json:"focus,omitempty" jsonschema:"Review focus, e.g. security or performance (default: general)"`
	ProjectPath string `json:"project_path,omitempty" jsonschema:"Project directory scoping the conversation (default: current working directory)"`
}

type debugInput struct {
	Error       string `json:"error" jsonschema:"required,Error message or unexpected behavior"`
	Code        string `json:"code,omitempty" jsonschema:"Related code"`
	ProjectPath string `json:"project_path,omitempty" jsonschema:"Project directory scoping the conversation (default: current working directory)"`
}

type brainstormInput struct {
	Topic       string `json:"topic" jsonschema:"required,Topic to brainstorm about"`
	Constraints string `json:"constraints,omitempty" jsonschema:"Constraints to respect"`
	ProjectPath string `json:"project_path,omitempty" jsonschema:"Project directory scoping the conversation (default: current working directory)"`
}

type analyzeInput struct {
	Code         string `json:"code" jsonschema:"required,Code to analyze"`
	AnalysisType string `json:"analysis_type,omitempty" jsonschema:"Kind of analysis, e.g. complexity or correctness (default: general)"`
	ProjectPath  string `json:"project_path,omitempty" jsonschema:"Project directory scoping the conversation (default: current working directory)"`
}

// registerCapabilityTools exposes the specialized operations per AI. Each
// tool renders its arguments into a prompt and goes through the same
// pipeline as ask_<ai>, so reviews and debugging sessions accumulate in
// the same per-project memory.
func (s *Server) registerCapabilityTools() {
	for _, ai := range config.SupportedAIs {
		upper := strings.ToUpper(ai)

		reviewTool := ai + "_code_review"
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        reviewTool,
			Description: fmt.Sprintf("Have %s review code, with persistent per-project conversation memory.", upper),
		}, func(ctx context.Context, req *mcp.CallToolRequest, args codeReviewInput) (*mcp.CallToolResult, askOutput, error) {
			out, err := s.ask(ctx, reviewTool, askInput{
				Prompt:      gateway.CodeReviewPrompt(args.Code, args.Focus),
				ProjectPath: args.ProjectPath,
			})
			if err != nil {
				return nil, askOutput{}, err
			}
			return textResult(out.Response), out, nil
		})

		debugTool := ai + "_debug"
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        debugTool,
			Description: fmt.Sprintf("Have %s debug an issue, with persistent per-project conversation memory.", upper),
		}, func(ctx context.Context, req *mcp.CallToolRequest, args debugInput) (*mcp.CallToolResult, askOutput, error) {
			out, err := s.ask(ctx, debugTool, askInput{
				Prompt:      gateway.DebugPrompt(args.Error, args.Code),
				ProjectPath: args.ProjectPath,
			})
			if err != nil {
				return nil, askOutput{}, err
			}
			return textResult(out.Response), out, nil
		})

		brainstormTool := ai + "_brainstorm"
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        brainstormTool,
			Description: fmt.Sprintf("Brainstorm with %s, with persistent per-project conversation memory.", upper),
		}, func(ctx context.Context, req *mcp.CallToolRequest, args brainstormInput) (*mcp.CallToolResult, askOutput, error) {
			out, err := s.ask(ctx, brainstormTool, askInput{
				Prompt:      gateway.BrainstormPrompt(args.Topic, args.Constraints),
				ProjectPath: args.ProjectPath,
			})
			if err != nil {
				return nil, askOutput{}, err
			}
			return textResult(out.Response), out, nil
		})

		analyzeTool := ai + "_analyze"
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        analyzeTool,
			Description: fmt.Sprintf("Have %s analyze code, with persistent per-project conversation memory.", upper),
		}, func(ctx context.Context, req *mcp.CallToolRequest, args analyzeInput) (*mcp.CallToolResult, askOutput, error) {
			out, err := s.ask(ctx, analyzeTool, askInput{
				Prompt:      gateway.AnalyzePrompt(args.Code, args.AnalysisType),
				ProjectPath: args.ProjectPath,
			})
			if err != nil {
				return nil, askOutput{}, err
			}
			return textResult(out.Response), out, nil
		})
	}
}
