package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, 2, cfg.Forwarder.MaxRetryAttemptsDefault)
	assert.Equal(t, 20, cfg.Forwarder.MaxProviderSwitches)
	assert.False(t, cfg.Forwarder.EnableBreakerOnNetworkErrors)
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 2, cfg.Forwarder.MaxRetryAttemptsDefault)
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  http_port: 9000
forwarder:
  max_retry_attempts_default: 4
  max_provider_switches: 10
providers:
  - id: p1
    vendor_id: anthropic-prod
    provider_type: anthropic
    credential: sk-test
    priority: 1
    weight: 100
keys:
  - id: key1
    user_id: user1
    rpm: 60
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Forwarder.MaxRetryAttemptsDefault)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "anthropic", cfg.Providers[0].ProviderType)
	require.Len(t, cfg.Keys, 1)
	assert.Equal(t, 60, cfg.Keys[0].RPM)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("LLMGATE_FORWARDER_MAX_RETRY_ATTEMPTS_DEFAULT", "6")
	t.Setenv("LLMGATE_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithEnvPrefix("LLMGATE").Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Forwarder.MaxRetryAttemptsDefault)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Server.HTTPPort = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Forwarder.MaxRetryAttemptsDefault = 20
	assert.Error(t, cfg.Validate())
}

func TestEffectiveConcurrency_InheritsFromUser(t *testing.T) {
	key := Key{Concurrency: ConcurrencyLimits{Sessions: 0, ClientAgents: 3}}
	user := User{Concurrency: ConcurrencyLimits{Sessions: 5, ClientAgents: 10}}

	eff := EffectiveConcurrency(key, user)
	assert.Equal(t, 5, eff.Sessions)
	assert.Equal(t, 3, eff.ClientAgents)
}
