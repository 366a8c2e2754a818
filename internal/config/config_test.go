package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsApplyWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://mempool.space/api", cfg.Explorer.BaseURL)
	assert.Equal(t, 10, cfg.Tracer.MaxDepth)
	assert.Equal(t, 500, cfg.Tracer.MaxTotalNodes)
	assert.Equal(t, 4096, cfg.Cache.Capacity)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Monitor.Autostart)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tracer:
  max_depth: 3
store:
  uri: "neo4j://graph.internal:7687"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Tracer.MaxDepth)
	assert.Equal(t, "neo4j://graph.internal:7687", cfg.Store.URI)
	// Untouched sections keep their defaults.
	assert.Equal(t, 500, cfg.Tracer.MaxTotalNodes)
}

func TestLoad_UnknownKeyInFileIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tracer:
  max_depth: 3
  not_a_real_field: true
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("COINJOIN_STORE_USERNAME", "env-override-user")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-override-user", cfg.Store.Username)
}
