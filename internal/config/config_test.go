package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func env(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", WithEnvLookup(noEnv))
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.NotEmpty(t, cfg.StoreDir)
	assert.Equal(t, DefaultWakeInterval, cfg.WakeInterval)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr: 0.0.0.0:9000\nstore_backend: postgres\npostgres_dsn: postgres://x\nwake_interval: 5s\n"), 0o644))

	cfg, err := Load(path, WithEnvLookup(noEnv))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.WakeInterval)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: 0.0.0.0:9000\n"), 0o644))

	cfg, err := Load(path, WithEnvLookup(env(map[string]string{
		"TASKFORGE_LISTEN_ADDR":   "127.0.0.1:7001",
		"TASKFORGE_WAKE_INTERVAL": "45",
	})))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7001", cfg.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.WakeInterval)
}

func TestLoadExplicitMissingFileIsAnError(t *testing.T) {
	_, err := Load(t.TempDir()+"/nope.yaml", WithEnvLookup(noEnv))
	require.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load("", WithEnvLookup(env(map[string]string{
		"TASKFORGE_STORE_BACKEND": "redis",
	})))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	_, err := Load("", WithEnvLookup(env(map[string]string{
		"TASKFORGE_STORE_BACKEND": "postgres",
	})))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_dsn")
}
