package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/pkg/models"
)

func writeSkill(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SkillFilename), []byte(body), 0o644))
}

const sampleSkill = "---\nname: deploy\ndescription: deploys the service\ntools:\n  - deploy_run\n---\nBody text.\n"

func TestSyncDiscoversProjectAndUserSkills(t *testing.T) {
	projectRoot := t.TempDir()
	userRoot := t.TempDir()
	writeSkill(t, projectRoot, "deploy", sampleSkill)
	writeSkill(t, userRoot, "notes", "---\nname: notes\ndescription: takes notes\n---\nBody.\n")

	r := New([]string{projectRoot}, []string{userRoot}, nil, nil)
	require.NoError(t, r.Sync(context.Background()))

	list := r.List()
	require.Len(t, list, 2)
	require.Equal(t, "deploy", list[0].Name)
	require.Equal(t, []string{"deploy_run"}, list[0].Tools)
	require.Equal(t, "notes", list[1].Name)
}

func TestSyncProjectRootShadowsUserRoot(t *testing.T) {
	projectRoot := t.TempDir()
	userRoot := t.TempDir()
	writeSkill(t, projectRoot, "deploy", "---\nname: deploy\ndescription: project version\n---\nP\n")
	writeSkill(t, userRoot, "deploy", "---\nname: deploy\ndescription: user version\n---\nU\n")

	r := New([]string{projectRoot}, []string{userRoot}, nil, nil)
	require.NoError(t, r.Sync(context.Background()))

	d, ok := r.Get("deploy")
	require.True(t, ok)
	require.Equal(t, RootProject, d.Root)
	require.Equal(t, "project version", d.Description)
}

func TestSyncMissingRootIsNotAnError(t *testing.T) {
	r := New([]string{filepath.Join(t.TempDir(), "does-not-exist")}, nil, nil, nil)
	require.NoError(t, r.Sync(context.Background()))
	require.Empty(t, r.List())
}

func TestSyncEmitsSkillsChangedOnlyWhenContentDiffers(t *testing.T) {
	projectRoot := t.TempDir()
	writeSkill(t, projectRoot, "deploy", sampleSkill)

	bus := worldbus.New("w1", func() *string { return nil })
	var events int
	bus.On(models.ChannelSystem, func(ctx context.Context, e worldbus.Event) {
		if e.System.Kind == models.SystemSkillsChanged {
			events++
		}
	})

	r := New([]string{projectRoot}, nil, bus, nil)
	require.NoError(t, r.Sync(context.Background()))
	require.Equal(t, 1, events)

	require.NoError(t, r.Sync(context.Background()))
	require.Equal(t, 1, events, "second sync with unchanged content must not re-emit")
}

func TestLoadContentReadsBodyOnDemand(t *testing.T) {
	projectRoot := t.TempDir()
	writeSkill(t, projectRoot, "deploy", sampleSkill)

	r := New([]string{projectRoot}, nil, nil, nil)
	require.NoError(t, r.Sync(context.Background()))

	content, err := r.LoadContent("deploy")
	require.NoError(t, err)
	require.Contains(t, content, "Body text.")
}

func TestDescriptorWithoutFrontmatterFallsBackToDirectoryName(t *testing.T) {
	projectRoot := t.TempDir()
	writeSkill(t, projectRoot, "plain", "Just a body, no frontmatter.\n")

	r := New([]string{projectRoot}, nil, nil, nil)
	require.NoError(t, r.Sync(context.Background()))

	d, ok := r.Get("plain")
	require.True(t, ok)
	require.Empty(t, d.Description)
}
