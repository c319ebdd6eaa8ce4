// Memoryd gives AI chat backends persistent per-project conversation
// memory over MCP. It serves tools on stdio and runs an HTTP sidecar for
// health, metrics and clear-event streaming.
//
// Usage:
//
//	# Serve MCP on stdio with defaults
//	memoryd serve
//
//	# With a config file and env overrides
//	MEMORYD_SERVER_PORT=9100 memoryd serve --config memoryd.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/httpapi"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/mcp"
	"github.com/fyrsmithlabs/memoryd/internal/services"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "memoryd",
	Short:   "Persistent per-project conversation memory for AI backends",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP tools on stdio with the HTTP sidecar",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("memoryd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := services.New(cfg, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	mcpServer, err := mcp.NewServer(&mcp.Config{
		Name:       "memoryd",
		Version:    version,
		Logger:     logger,
		NATSStatus: registry.NATSStatus,
	}, registry.Sessions, registry.Contexts, registry.Injector, registry.Gateway)
	if err != nil {
		return err
	}

	httpServer, err := httpapi.NewServer(registry.Contexts, registry.Hub, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mcpServer.Run(ctx)
	})

	g.Go(func() error {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		registry.Sessions.RunSweeper(ctx, cfg.Session.SweepInterval.Duration())
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("memoryd started",
		zap.String("version", version),
		zap.String("storage", cfg.Storage.Driver),
		zap.Strings("configured_ais", cfg.ConfiguredProviders()))

	if err := g.Wait(); err != nil && !isShutdown(err) {
		return err
	}
	logger.Info("memoryd stopped")
	return nil
}

func isShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
