package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	require.Equal(t, DatabaseSQLite, cfg.Database.Kind)
	require.Equal(t, StoreFS, cfg.Store.Kind)
	require.Equal(t, MessengerMemory, cfg.Messenger.Kind)
	require.Equal(t, SandboxNone, cfg.Runtime.Sandbox)
	require.NotNil(t, cfg.Remotes)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tangram.yaml")
	contents := []byte(`
database:
  kind: postgres
  dsn: "postgres://localhost/tangram"
store:
  kind: memory
remotes:
  origin: "https://example.com"
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DatabasePostgres, cfg.Database.Kind)
	require.Equal(t, "postgres://localhost/tangram", cfg.Database.DSN)
	require.Equal(t, StoreMemory, cfg.Store.Kind)
	require.Equal(t, "https://example.com", cfg.Remotes["origin"])
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("TANGRAM_STORE_KIND", "memory")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.Store.Kind)
}
