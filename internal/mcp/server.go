// Package mcp exposes memoryd over the Model Context Protocol. It is the
// stdio boundary: tool calls come in, the session registry, context store,
// injector and gateway do the work, and typed results go back out.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/gateway"
	"github.com/fyrsmithlabs/memoryd/internal/inject"
	"github.com/fyrsmithlabs/memoryd/internal/session"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Server wires the memoryd core behind MCP tools.
type Server struct {
	mcp      *mcp.Server
	sessions *session.Registry
	contexts *store.Store
	injector *inject.Injector
	gateway  *gateway.Gateway
	logger   *zap.Logger

	natsStatus func() string
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "memoryd").
	Name string

	// Version is the server version (default: "1.0.0").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger

	// NATSStatus reports the cross-process broadcast link state for
	// db_status. Optional; nil reads as "disabled".
	NATSStatus func() string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "memoryd",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates the MCP server over the given collaborators.
func NewServer(
	cfg *Config,
	sessions *session.Registry,
	contexts *store.Store,
	injector *inject.Injector,
	gw *gateway.Gateway,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if contexts == nil {
		return nil, fmt.Errorf("context store is required")
	}
	if injector == nil {
		return nil, fmt.Errorf("injector is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		sessions: sessions,
		contexts: contexts,
		injector: injector,
		gateway:  gw,
		logger:   cfg.Logger.Named("mcp"),

		natsStatus: cfg.NATSStatus,
	}

	s.registerAskTools()
	s.registerCapabilityTools()
	s.registerContextTools()

	return s, nil
}

// Run serves MCP over the stdio transport until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
