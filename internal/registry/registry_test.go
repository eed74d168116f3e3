package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/internal/storage"
	"github.com/haasonsaas/worldrt/pkg/models"
)

func seedStore(t *testing.T) storage.API {
	t.Helper()
	st := storage.NewMemoryStore()
	require.NoError(t, st.SaveWorld(context.Background(), &models.World{ID: "w1", Name: "World One"}))
	require.NoError(t, st.SaveAgent(context.Background(), "w1", &models.Agent{ID: "alice", Name: "Alice"}))
	return st
}

func TestRegistryLoadHydratesFromStorage(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), nil)

	w, err := r.Load(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "w1", w.ID())

	a, ok := w.Agent("alice")
	require.True(t, ok)
	require.Equal(t, "Alice", a.Name)
}

func TestRegistryLoadIsCached(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), nil)

	w1, err := r.Load(ctx, "w1")
	require.NoError(t, err)
	w2, err := r.Load(ctx, "w1")
	require.NoError(t, err)
	require.Same(t, w1, w2)
}

func TestRegistryEvictForcesRehydrate(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), nil)

	w1, err := r.Load(ctx, "w1")
	require.NoError(t, err)
	r.Evict("w1")

	w2, err := r.Load(ctx, "w1")
	require.NoError(t, err)
	require.NotSame(t, w1, w2)
}

func TestWorldResolveAgentByNameCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), nil)
	w, err := r.Load(ctx, "w1")
	require.NoError(t, err)

	id, ok := w.ResolveAgentByName("ALICE")
	require.True(t, ok)
	require.Equal(t, "alice", id)
}

func TestWorldCurrentChatIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), nil)
	w, err := r.Load(ctx, "w1")
	require.NoError(t, err)

	require.Nil(t, w.currentChatID())
	chatID := "c1"
	w.SetCurrentChatID(&chatID)
	require.Equal(t, "c1", *w.currentChatID())
}
