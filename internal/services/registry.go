// Package services wires the memoryd components together from
// configuration. It is the composition root: everything that holds shared
// mutable state is built here and passed by reference, never reached
// through ambient globals.
package services

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/gateway"
	"github.com/fyrsmithlabs/memoryd/internal/inject"
	"github.com/fyrsmithlabs/memoryd/internal/session"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Registry holds every constructed service.
type Registry struct {
	Config   *config.Config
	Logger   *zap.Logger
	Contexts *store.Store
	Sessions *session.Registry
	Injector *inject.Injector
	Gateway  *gateway.Gateway
	Hub      *session.Hub

	sessionBackend session.Backend
	nats           *session.NATSPublisher
}

// New builds the full service graph from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	var durable store.Durable
	var err error
	switch cfg.Storage.Driver {
	case "file":
		durable, err = store.OpenFileStore(cfg.Storage.DataDir, logger)
	default:
		durable, err = store.OpenSQLite(cfg.Storage.Path, cfg.Cache.MaxMessages)
	}
	if err != nil {
		return nil, fmt.Errorf("open context storage: %w", err)
	}

	contexts := store.New(durable, cfg.Cache, logger)

	backend, err := session.OpenSQLite(sessionDBPath(cfg))
	if err != nil {
		contexts.Close()
		return nil, fmt.Errorf("open session storage: %w", err)
	}

	hub := session.NewHub()
	sessions := session.NewRegistry(backend, contexts, cfg.Session, logger, hub)

	r := &Registry{
		Config:         cfg,
		Logger:         logger,
		Contexts:       contexts,
		Sessions:       sessions,
		Injector:       inject.NewInjector(contexts, logger),
		Gateway:        gateway.New(cfg.Gateway, logger),
		Hub:            hub,
		sessionBackend: backend,
	}

	if cfg.NATS.URL != "" {
		nats, err := session.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger, sessions.HandleRemoteClear)
		if err != nil {
			// Cross-process eviction is an optimization; memoryd still
			// works from durable state without it.
			logger.Warn("nats unavailable, clear broadcasts stay in-process",
				zap.String("url", cfg.NATS.URL), zap.Error(err))
		} else {
			sessions.AddBroadcaster(nats)
			r.nats = nats
		}
	}

	return r, nil
}

// NATSStatus describes the cross-process broadcast link.
func (r *Registry) NATSStatus() string {
	switch {
	case r.nats == nil:
		return "disabled"
	case r.nats.Connected():
		return "connected"
	default:
		return "reconnecting"
	}
}

// Close shuts services down, draining pending context writes first.
func (r *Registry) Close() error {
	var errs []error
	if err := r.Contexts.Close(); err != nil {
		errs = append(errs, fmt.Errorf("context store close: %w", err))
	}
	if err := r.sessionBackend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session backend close: %w", err))
	}
	if r.nats != nil {
		r.nats.Close()
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// sessionDBPath places the registry database next to the context store.
func sessionDBPath(cfg *config.Config) string {
	if cfg.Storage.Driver == "file" {
		return filepath.Join(filepath.Dir(cfg.Storage.DataDir), "sessions.db")
	}
	return filepath.Join(filepath.Dir(cfg.Storage.Path), "sessions.db")
}
