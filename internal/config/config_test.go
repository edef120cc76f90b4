package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, 64, cfg.Worker.QueueDepth)
	require.Equal(t, "webharvest/1.0", cfg.Fetch.UserAgent)
	require.Equal(t, 30, cfg.Fetch.TimeoutSeconds)
	require.Equal(t, "none", cfg.Archive.Backend)
	require.True(t, cfg.Logging.Development)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
worker:
  concurrency: 8
fetch:
  user_agent: "shopbot/2.0"
archive:
  backend: local
  base_dir: /tmp/snapshots
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 8, cfg.Worker.Concurrency)
	require.Equal(t, "shopbot/2.0", cfg.Fetch.UserAgent)
	require.Equal(t, "local", cfg.Archive.Backend)
	require.Equal(t, "/tmp/snapshots", cfg.Archive.BaseDir)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WEBHARVEST_SERVER_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Archive.Backend = "gcs"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Archive.Backend = "tape"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.PubSub.ProjectID = "proj"
	require.Error(t, cfg.Validate())
}
