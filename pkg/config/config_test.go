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
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7070", cfg.RaftBindAddr)
	assert.Equal(t, int32(2), cfg.PostgresMaxConns)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("LUSTRE_FLEET_NODE_ID", "mgr-1")
	t.Setenv("LUSTRE_FLEET_POSTGRES_MAX_CONNS", "25")
	t.Setenv("LUSTRE_FLEET_RECONCILE_INTERVAL", "5s")
	t.Setenv("LUSTRE_FLEET_LOG_JSON", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", cfg.NodeID)
	assert.Equal(t, int32(25), cfg.PostgresMaxConns)
	assert.Equal(t, 5*time.Second, cfg.ReconcileInterval)
	assert.False(t, cfg.LogJSON)
}

func TestLoadFileOverridesEnv(t *testing.T) {
	t.Setenv("LUSTRE_FLEET_NODE_ID", "mgr-env")

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: mgr-file\npostgres_max_conns: 40\n"), 0o644))
	t.Setenv("LUSTRE_FLEET_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mgr-file", cfg.NodeID)
	assert.Equal(t, int32(40), cfg.PostgresMaxConns)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("LUSTRE_FLEET_RECONCILE_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
}
