package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "New Chat", cfg.NewChat.ReusableTitle)
	require.True(t, cfg.NewChat.EnableOptimization)
	require.Equal(t, StorageMemory, cfg.Storage.Type)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  type: sql
  data_path: /var/lib/worldrt
hitl:
  default_timeout: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StorageSQL, cfg.Storage.Type)
	require.Equal(t, "/var/lib/worldrt", cfg.Storage.DataPath)
	require.Equal(t, 30e9, float64(cfg.HITL.DefaultTimeout))
}

func TestLoadMissingPathIsNotAnError(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().NewChat.ReusableTitle, cfg.NewChat.ReusableTitle)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "file")
	t.Setenv("DATA_PATH", "/tmp/data")
	t.Setenv("SKILLS.PROJECT_ROOTS", "/a/skills"+string(os.PathListSeparator)+"/b/skills")

	path := filepath.Join(t.TempDir(), "worldrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  type: sql
  data_path: /var/lib/worldrt
skills:
  project_roots: [/from/file]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StorageFile, cfg.Storage.Type)
	require.Equal(t, "/tmp/data", cfg.Storage.DataPath)
	require.Equal(t, []string{"/a/skills", "/b/skills"}, cfg.Skills.ProjectRoots)
}

func TestResolveLevelFallsBackThroughAncestors(t *testing.T) {
	cfg := Default()
	cfg.Log.GlobalLevel = "warn"
	cfg.Log.CategoryLevels = map[string]string{
		"agent": "debug",
	}

	require.Equal(t, slog.LevelDebug, cfg.ResolveLevel("Agent.Pipeline"))
	require.Equal(t, slog.LevelWarn, cfg.ResolveLevel("storage.sql"))
}
