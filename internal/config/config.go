// Package config provides configuration loading for memoryd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SupportedAIs is the fixed set of AI identities memoryd can route to.
var SupportedAIs = []string{"gemini", "grok", "openai", "deepseek"}

// Config is the root memoryd configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Cache   CacheConfig   `koanf:"cache"`
	Session SessionConfig `koanf:"session"`
	Gateway GatewayConfig `koanf:"gateway"`
	NATS    NATSConfig    `koanf:"nats"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds HTTP sidecar settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	// Driver is "sqlite" (primary) or "file" (JSON fallback variant).
	Driver string `koanf:"driver"`

	// Path is the SQLite database file. Defaults to
	// ~/.local/share/memoryd/memoryd.db.
	Path string `koanf:"path"`

	// DataDir is the root for the file-backed store variant. Defaults to
	// ~/.local/share/memoryd/contexts.
	DataDir string `koanf:"data_dir"`
}

// CacheConfig tunes the volatile context cache.
type CacheConfig struct {
	TTL         Duration `koanf:"ttl"`
	MaxEntries  int      `koanf:"max_entries"`
	MaxMessages int      `koanf:"max_messages"`
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	// InactiveAfter marks sessions cleared when idle longer than this.
	InactiveAfter Duration `koanf:"inactive_after"`

	// SweepInterval is how often the retention sweeper runs. Zero disables it.
	SweepInterval Duration `koanf:"sweep_interval"`
}

// GatewayConfig holds outbound AI call settings.
type GatewayConfig struct {
	Timeout   Duration                  `koanf:"timeout"`
	Providers map[string]ProviderConfig `koanf:"providers"`
}

// ProviderConfig configures one AI backend.
type ProviderConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
	Model   string `koanf:"model"`
}

// NATSConfig configures the optional clear-event broadcast transport.
// An empty URL disables NATS; broadcasts then reach in-process
// subscribers only.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "sqlite", "file":
	default:
		return fmt.Errorf("storage.driver must be sqlite or file, got %q", c.Storage.Driver)
	}
	if c.Cache.MaxMessages <= 0 {
		return fmt.Errorf("cache.max_messages must be positive, got %d", c.Cache.MaxMessages)
	}
	if c.Cache.TTL.Duration() <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL.Duration())
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	for name := range c.Gateway.Providers {
		if !isSupportedAI(name) {
			return fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(SupportedAIs, ", "))
		}
	}
	return nil
}

// ConfiguredProviders returns the identities with an API key set, in the
// canonical SupportedAIs order.
func (c *Config) ConfiguredProviders() []string {
	var names []string
	for _, ai := range SupportedAIs {
		if p, ok := c.Gateway.Providers[ai]; ok && p.APIKey.IsSet() {
			names = append(names, ai)
		}
	}
	return names
}

func isSupportedAI(name string) bool {
	for _, ai := range SupportedAIs {
		if ai == name {
			return true
		}
	}
	return false
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8377
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	dataHome := defaultDataHome()
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dataHome, "memoryd.db")
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = filepath.Join(dataHome, "contexts")
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(time.Hour)
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 256
	}
	if cfg.Cache.MaxMessages == 0 {
		cfg.Cache.MaxMessages = 100
	}

	if cfg.Session.InactiveAfter == 0 {
		cfg.Session.InactiveAfter = Duration(24 * time.Hour)
	}

	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = Duration(60 * time.Second)
	}
	if cfg.Gateway.Providers == nil {
		cfg.Gateway.Providers = make(map[string]ProviderConfig)
	}
	applyProviderDefaults(cfg.Gateway.Providers)

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "memoryd"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyProviderDefaults fills in base URLs and models for known providers,
// and picks up conventional environment variables (GEMINI_API_KEY,
// GEMINI_MODEL, ...) so memoryd works with no config file at all.
func applyProviderDefaults(providers map[string]ProviderConfig) {
	defaults := map[string]ProviderConfig{
		"gemini":   {BaseURL: "https://generativelanguage.googleapis.com", Model: "gemini-2.0-flash"},
		"openai":   {BaseURL: "https://api.openai.com", Model: "gpt-4o"},
		"grok":     {BaseURL: "https://api.x.ai", Model: "grok-3"},
		"deepseek": {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
	}

	for _, ai := range SupportedAIs {
		p := providers[ai]
		def := defaults[ai]
		if p.BaseURL == "" {
			p.BaseURL = def.BaseURL
		}
		envPrefix := strings.ToUpper(ai)
		if !p.APIKey.IsSet() {
			p.APIKey = Secret(os.Getenv(envPrefix + "_API_KEY"))
		}
		if p.Model == "" {
			if m := os.Getenv(envPrefix + "_MODEL"); m != "" {
				p.Model = m
			} else {
				p.Model = def.Model
			}
		}
		providers[ai] = p
	}
}

// defaultDataHome returns the per-user data directory for memoryd.
func defaultDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "memoryd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "memoryd")
	}
	return filepath.Join(home, ".local", "share", "memoryd")
}
