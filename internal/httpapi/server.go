// Package httpapi provides the HTTP sidecar for memoryd: health checks,
// Prometheus metrics and a clear-event stream for live subscribers.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/session"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Server provides the HTTP endpoints next to the MCP stdio transport.
type Server struct {
	echo     *echo.Echo
	contexts *store.Store
	hub      *session.Hub
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP sidecar.
func NewServer(contexts *store.Store, hub *session.Hub, logger *zap.Logger, cfg *Config) (*Server, error) {
	if contexts == nil {
		return nil, fmt.Errorf("context store cannot be nil")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8377}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		contexts: contexts,
		hub:      hub,
		logger:   logger.Named("http"),
		config:   cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/events", s.handleEvents)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	CachedEntries int    `json:"cached_entries"`
}

func (s *Server) handleHealth(c echo.Context) error {
	st, cached, err := s.contexts.Stats(c.Request().Context())
	if err != nil {
		s.logger.Warn("health check storage probe failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Conversations: st.Conversations,
		Messages:      st.Messages,
		CachedEntries: cached,
	})
}

// handleEvents streams clear events as server-sent events. Delivery is
// best-effort; a slow consumer misses notices rather than backing up the
// clear path.
func (s *Server) handleEvents(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	notices, cancel := s.hub.Subscribe()
	defer cancel()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case notice, ok := <-notices:
			if !ok {
				return nil
			}
			data, err := json.Marshal(notice)
			if err != nil {
				s.logger.Warn("encode clear notice", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: context_cleared\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
