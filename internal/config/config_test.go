package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10*time.Minute, cfg.QueryTimeout())
	assert.Equal(t, 10, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff())
	assert.Equal(t, 5*time.Second, cfg.RepairThrottle())
	assert.Equal(t, 4, cfg.ReplicationFactor)
	assert.Equal(t, 50, cfg.RepairBatchSize)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
dataRoot: /var/lib/xorvault
replicationFactor: 7
queryTimeoutSeconds: 90
logLevel: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/xorvault", cfg.DataRoot)
	assert.Equal(t, 7, cfg.ReplicationFactor)
	assert.Equal(t, 90*time.Second, cfg.QueryTimeout())
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10, cfg.MaxRetries)
}

func TestLoad_EnvOverridesQueryTimeout(t *testing.T) {
	t.Setenv(QueryTimeoutEnv, "120")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.QueryTimeout())
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv(QueryTimeoutEnv, "soon")
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataRoot: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
