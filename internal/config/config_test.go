package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8377, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Duration())
	assert.Equal(t, 100, cfg.Cache.MaxMessages)
	assert.Equal(t, 60*time.Second, cfg.Gateway.Timeout.Duration())
	assert.Equal(t, "json", cfg.Logging.Format)

	for _, ai := range SupportedAIs {
		p, ok := cfg.Gateway.Providers[ai]
		require.True(t, ok, "provider %s missing", ai)
		assert.NotEmpty(t, p.BaseURL)
		assert.NotEmpty(t, p.Model)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.yaml")
	data := []byte(`
server:
  port: 9100
cache:
  ttl: 30m
  max_messages: 50
storage:
  driver: file
logging:
  level: debug
  format: console
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.Duration())
	assert.Equal(t, 50, cfg.Cache.MaxMessages)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8377, cfg.Server.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MEMORYD_SERVER_PORT", "9200")
	t.Setenv("MEMORYD_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestProviderEnvCredentials(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key-123")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")

	cfg, err := Load("")
	require.NoError(t, err)

	p := cfg.Gateway.Providers["gemini"]
	assert.Equal(t, "test-key-123", p.APIKey.Value())
	assert.Equal(t, "gemini-2.5-pro", p.Model)
	assert.Contains(t, cfg.ConfiguredProviders(), "gemini")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "bad driver",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: "storage.driver",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "zero max messages",
			mutate:  func(c *Config) { c.Cache.MaxMessages = 0 },
			wantErr: "cache.max_messages",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Gateway.Providers["claude"] = ProviderConfig{}
			},
			wantErr: "unknown provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "super-secret", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("bogus")))
}
