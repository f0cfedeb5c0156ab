// Package config_test verifies the configuration pipeline: defaults, embedded YAML
// merge, environment variable placeholders and overrides.
package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := config.NewConfig()

	assert.Equal(t, 1, cfg.Dispatch.Poller.DebounceSeconds)
	assert.Equal(t, 3, cfg.Dispatch.Poller.MaxTerminalObservations)
	assert.Equal(t, 30, cfg.Dispatch.Poller.IntervalSeconds)
	assert.Equal(t, 10, cfg.Dispatch.Check.ChunkSize)
	assert.Equal(t, 30, cfg.Dispatch.Check.ItemTimeoutSeconds)
	assert.Equal(t, 5, cfg.Dispatch.Check.StreamConcurrency)
	assert.Equal(t, "memory", cfg.Dispatch.Store.Driver)
	assert.Equal(t, "INFO", cfg.Dispatch.System.Logging.Level)
	assert.False(t, cfg.Dispatch.Archive.Enabled)
	assert.Contains(t, cfg.Dispatch.Security.MaskedParameterKeys, "api_key")
}

func TestLoadConfigMergesEmbeddedYAML(t *testing.T) {
	embedded := []byte(`
dispatch:
  poller:
    debounce_seconds: 2
  check:
    endpoint: "https://checker.example.com/check"
    chunk_size: 25
  store:
    driver: sqlite
  system:
    logging:
      level: DEBUG
`)

	cfg, err := config.LoadConfig("", embedded)
	require.NoError(t, err)

	// YAML values win over defaults.
	assert.Equal(t, 2, cfg.Dispatch.Poller.DebounceSeconds)
	assert.Equal(t, 25, cfg.Dispatch.Check.ChunkSize)
	assert.Equal(t, "https://checker.example.com/check", cfg.Dispatch.Check.Endpoint)
	assert.Equal(t, "sqlite", cfg.Dispatch.Store.Driver)
	assert.Equal(t, "DEBUG", cfg.Dispatch.System.Logging.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.Dispatch.Poller.MaxTerminalObservations)
	assert.Equal(t, 5, cfg.Dispatch.Check.StreamConcurrency)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DISPATCH_POLLER_DEBOUNCE_SECONDS", "7")
	t.Setenv("DISPATCH_CHECK_API_KEY", "env-secret")

	cfg, err := config.LoadConfig("", []byte("dispatch:\n  poller:\n    debounce_seconds: 2\n"))
	require.NoError(t, err)

	// Environment variables win over YAML.
	assert.Equal(t, 7, cfg.Dispatch.Poller.DebounceSeconds)
	assert.Equal(t, "env-secret", cfg.Dispatch.Check.APIKey)
}

func TestLoadConfigExpandsPlaceholders(t *testing.T) {
	t.Setenv("CHECKER_URL", "https://expanded.example.com")

	cfg, err := config.LoadConfig("", []byte("dispatch:\n  check:\n    endpoint: ${CHECKER_URL}\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://expanded.example.com", cfg.Dispatch.Check.Endpoint)
}

func TestLoadConfigKeepsAdapterMaps(t *testing.T) {
	embedded := []byte(`
dispatch:
  database:
    metadata:
      type: postgres
      host: db.internal
  storage:
    archive:
      type: s3
      bucket: dispatch-archives
`)

	cfg, err := config.LoadConfig("", embedded)
	require.NoError(t, err)

	require.Contains(t, cfg.Dispatch.AdapterConfigs, "metadata")
	require.Contains(t, cfg.Dispatch.StorageConfigs, "archive")
}

func TestNewConfigProviderSetsGlobal(t *testing.T) {
	prev := config.GlobalConfig
	t.Cleanup(func() { config.GlobalConfig = prev })

	cfg, err := config.NewConfigProvider(config.ConfigParams{
		EmbeddedConfig: []byte("dispatch:\n  security:\n    masked_parameter_keys: [token]\n"),
	})
	require.NoError(t, err)

	assert.Same(t, cfg, config.GlobalConfig)
	assert.Equal(t, []string{"token"}, config.GetMaskedParameterKeys())
}
