package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, ":7735", cfg.Mesh.ListenAddr)
	require.Equal(t, DefaultMeshPort, cfg.Discovery.Port)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "console", cfg.Log.Format)
	require.NotEmpty(t, cfg.Overlay.Endpoint)
	require.NoError(t, cfg.validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillmesh.yaml")
	yaml := `
app_name: test-node
mesh:
  listen_addr: "127.0.0.1:9999"
  secure: true
discovery:
  cidrs: ["192.168.7.0/24"]
  fanout: 8
  allowed_keys: ["a2V5"]
overlay:
  endpoint: "http://127.0.0.1:9780"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "test-node", cfg.AppName)
	require.Equal(t, "127.0.0.1:9999", cfg.Mesh.ListenAddr)
	require.True(t, cfg.Mesh.Secure)
	require.Equal(t, []string{"192.168.7.0/24"}, cfg.Discovery.CIDRs)
	require.Equal(t, 8, cfg.Discovery.Fanout)
	require.Len(t, cfg.Discovery.AllowedKeys, 1)
	require.Equal(t, "http://127.0.0.1:9780", cfg.Overlay.Endpoint)
	// Untouched sections keep their defaults.
	require.Equal(t, 300, cfg.Discovery.ProbeTimeoutMS)
	require.Equal(t, 5000, cfg.Mesh.RequestTimeoutMS)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skillmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: chatty\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SKILLMESH_LOG_LEVEL", "debug")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
}
