package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.Guard.InitialBackoff)
	assert.Equal(t, 8, cfg.Sync.PurgeAfterFailures)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	data := []byte(`
server:
  port: 9000
identity:
  client_id: app
  token_url: https://auth.example.com/token
  scopes: [openid, profile]
guard:
  initial_backoff: 2s
  max_backoff: 10m
sync:
  base_period: 1m
notify:
  webhook_url: https://hooks.example.com/a
  webhook_kinds: [blocked, purged]
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, []string{"openid", "profile"}, cfg.Identity.Scopes)
	assert.Equal(t, 2*time.Second, cfg.Guard.InitialBackoff)
	assert.Equal(t, 10*time.Minute, cfg.Guard.MaxBackoff)
	assert.Equal(t, time.Minute, cfg.Sync.BasePeriod)
	assert.Equal(t, 15*time.Minute, cfg.Sync.MaxPeriod)
	assert.Equal(t, []types.AdvisoryKind{types.AdvisoryBlocked, types.AdvisoryPurged}, cfg.Notify.AdvisoryKinds())

	guard := cfg.Guard.TokenGuard()
	assert.Equal(t, 2*time.Second, guard.InitialBackoff)
	assert.Equal(t, "auth", guard.CookieNamespace)

	sync := cfg.Sync.ProfileSync()
	assert.Equal(t, time.Minute, sync.BasePeriod)
	assert.True(t, sync.SyncOnStart)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	require.Error(t, err)
	assert.True(t, errcode.Has(err, errcode.ConfigInvalidFormat))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"client without token url", func(c *Config) { c.Identity.ClientID = "app" }},
		{"unknown webhook kind", func(c *Config) { c.Notify.WebhookKinds = []string{"exploded"} }},
		{"base above max period", func(c *Config) { c.Sync.BasePeriod = time.Hour }},
		{"purge not after heal", func(c *Config) { c.Sync.PurgeAfterFailures = 2 }},
		{"backoff max below initial", func(c *Config) { c.Guard.MaxBackoff = time.Second }},
		{"block max below initial", func(c *Config) { c.Guard.BlockMax = time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errcode.IsInvalidInput(err), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n  format: json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errcode.Has(err, errcode.ConfigReadFailure))
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("TEST_AUTHGUARD_KEY", "from-env")
	t.Setenv("TEST_AUTHGUARD_SECRET", "secret-env")

	server := ServerConfig{APIKeyEnv: "TEST_AUTHGUARD_KEY"}
	assert.Equal(t, "from-env", server.ResolveAPIKey())
	server.APIKey = "inline"
	assert.Equal(t, "inline", server.ResolveAPIKey())

	identity := IdentityConfig{ClientSecretEnv: "TEST_AUTHGUARD_SECRET"}
	assert.Equal(t, "secret-env", identity.ResolveClientSecret())
	assert.Empty(t, IdentityConfig{}.ResolveClientSecret())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
}
