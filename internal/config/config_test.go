package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// setRequired sets the secrets Load refuses to run without.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MARKETLINK_VAULT_MASTER_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("MARKETLINK_AUTH_JWT_SECRET", "jwt-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, RunModeAll, cfg.RunMode)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.MaxWait)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 5, cfg.Webhook.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Webhook.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Webhook.MaxDelay)
	assert.True(t, cfg.Poller.Enabled)
	assert.Equal(t, 200, cfg.Poller.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Providers)
	assert.True(t, cfg.ServesAPI())
	assert.True(t, cfg.RunsWorker())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MARKETLINK_RUN_MODE", "API")
	t.Setenv("MARKETLINK_HTTP_PORT", "9090")
	t.Setenv("MARKETLINK_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MARKETLINK_RATELIMIT_BACKEND", "redis")
	t.Setenv("MARKETLINK_PROVIDER_TIMEOUT", "5s")
	t.Setenv("MARKETLINK_WEBHOOK_MAX_ATTEMPTS", "3")
	t.Setenv("MARKETLINK_POLLER_ENABLED", "false")
	t.Setenv("MARKETLINK_LOG_FORMAT", "text")
	t.Setenv("MARKETLINK_PROVIDERS_PRINTFUL_CLIENT_ID", "pf-client")
	t.Setenv("MARKETLINK_PROVIDERS_PRINTFUL_CLIENT_SECRET", "pf-secret")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, RunModeAPI, cfg.RunMode)
	assert.True(t, cfg.ServesAPI())
	assert.False(t, cfg.RunsWorker())
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
	assert.False(t, cfg.Poller.Enabled)
	assert.Equal(t, "text", cfg.Log.Format)
	require.Contains(t, cfg.Providers, domain.ProviderPrintful)
	assert.Equal(t, OAuthClientConfig{ClientID: "pf-client", ClientSecret: "pf-secret"}, cfg.Providers[domain.ProviderPrintful])
	assert.NotContains(t, cfg.Providers, domain.ProviderShipBob)
}

func TestLoad_ConfigFile(t *testing.T) {
	setRequired(t)
	dir := t.TempDir()
	yaml := `
run_mode: worker
http:
  port: 7070
sync:
  workers: 8
poller:
  interval: 1m
providers:
  shiphero:
    client_id: sh-client
    client_secret: sh-secret
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marketlink.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, RunModeWorker, cfg.RunMode)
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, time.Minute, cfg.Poller.Interval)
	assert.Equal(t, "sh-client", cfg.Providers[domain.ProviderShipHero].ClientID)
}

func TestLoad_EnvironmentBeatsFile(t *testing.T) {
	setRequired(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marketlink.yaml"), []byte("http:\n  port: 7070\n"), 0o600))
	t.Setenv("MARKETLINK_HTTP_PORT", "7171")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7171, cfg.HTTP.Port)
}

func TestLoad_MalformedFile(t *testing.T) {
	setRequired(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marketlink.yaml"), []byte("http: [unclosed"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_MissingSecrets(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault.master_key")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RunMode:   RunModeAll,
			HTTP:      HTTPConfig{Port: 8080},
			Database:  DatabaseConfig{URL: "postgres://localhost/marketlink"},
			Vault:     VaultConfig{MasterKey: "0123456789abcdef"},
			Auth:      AuthConfig{JWTSecret: "s"},
			Provider:  ProviderConfig{Timeout: time.Second},
			RateLimit: RateLimitConfig{Backend: "memory"},
			Sync:      SyncConfig{Workers: 1},
			Webhook:   WebhookConfig{MaxAttempts: 1},
			Log:       LogConfig{Format: "json"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"run mode", func(c *Config) { c.RunMode = "batch" }, "run_mode"},
		{"port", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"database", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"weak master key", func(c *Config) { c.Vault.MasterKey = "short" }, "vault.master_key"},
		{"jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
		{"provider timeout", func(c *Config) { c.Provider.Timeout = 0 }, "provider.timeout"},
		{"unknown limiter", func(c *Config) { c.RateLimit.Backend = "etcd" }, "ratelimit.backend"},
		{"redis limiter without redis", func(c *Config) { c.RateLimit.Backend = "redis" }, "redis.url"},
		{"sync workers", func(c *Config) { c.Sync.Workers = 0 }, "sync.workers"},
		{"webhook attempts", func(c *Config) { c.Webhook.MaxAttempts = 0 }, "webhook.max_attempts"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"oauth secret", func(c *Config) {
			c.Providers = map[domain.ProviderName]OAuthClientConfig{domain.ProviderPrintful: {ClientID: "id"}}
		}, "providers.printful.client_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
