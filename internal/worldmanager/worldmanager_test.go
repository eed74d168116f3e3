package worldmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/internal/registry"
	"github.com/haasonsaas/worldrt/internal/storage"
	"github.com/haasonsaas/worldrt/pkg/models"
)

type stubTitleGenerator struct {
	title string
	err   error
	calls int
}

func (s *stubTitleGenerator) GenerateTitle(ctx context.Context, transcript string) (string, error) {
	s.calls++
	return s.title, s.err
}

func newManager(t *testing.T, titleGen TitleGenerator) (*Manager, storage.API, *registry.Registry) {
	t.Helper()
	st := storage.NewMemoryStore()
	reg := registry.New(st, nil)
	m := New(reg, Config{MaxReusableAge: 5 * time.Minute, EnableOptimization: true}, titleGen, nil)
	return m, st, reg
}

func TestCreateWorldAutoCreatesCurrentChat(t *testing.T) {
	m, st, _ := newManager(t, nil)

	world, err := m.CreateWorld(context.Background(), st, "My World", "desc", 10)
	require.NoError(t, err)
	require.Equal(t, "my-world", world.ID())

	snap := world.Snapshot()
	require.NotNil(t, snap.CurrentChatID)

	chat, ok := world.Chat(*snap.CurrentChatID)
	require.True(t, ok)
	require.Equal(t, "New Chat", chat.Name)
}

func TestEnsureCurrentChatReusesNewestReusableChat(t *testing.T) {
	m, st, _ := newManager(t, nil)
	world, err := m.CreateWorld(context.Background(), st, "w2", "", 0)
	require.NoError(t, err)

	first := world.Snapshot().CurrentChatID
	require.NotNil(t, first)

	world.SetCurrentChatID(nil)
	chat, err := m.EnsureCurrentChat(context.Background(), world)
	require.NoError(t, err)
	require.Equal(t, *first, chat.ID)
}

func TestEnsureCurrentChatCreatesNewWhenNotReusable(t *testing.T) {
	m, st, _ := newManager(t, nil)
	world, err := m.CreateWorld(context.Background(), st, "w3", "", 0)
	require.NoError(t, err)

	firstID := *world.Snapshot().CurrentChatID
	chat, ok := world.Chat(firstID)
	require.True(t, ok)
	chat.MessageCount = 3 // world.Chat returns the registry's live pointer

	world.SetCurrentChatID(nil)
	chat, err = m.EnsureCurrentChat(context.Background(), world)
	require.NoError(t, err)
	require.NotEqual(t, firstID, chat.ID)
}

func TestDeleteChatClearsCurrentPointerAndNotifiesUnsubscribe(t *testing.T) {
	m, st, _ := newManager(t, nil)
	world, err := m.CreateWorld(context.Background(), st, "w4", "", 0)
	require.NoError(t, err)
	chatID := *world.Snapshot().CurrentChatID

	var unsubWorld, unsubChat string
	err = m.DeleteChat(context.Background(), world, chatID, func(worldID, chatID string) {
		unsubWorld, unsubChat = worldID, chatID
	})
	require.NoError(t, err)

	require.Nil(t, world.Snapshot().CurrentChatID)
	require.Equal(t, world.ID(), unsubWorld)
	require.Equal(t, chatID, unsubChat)

	_, ok := world.Chat(chatID)
	require.False(t, ok)
}

func TestNotifyMessagePersistedSkipsNonHumanSenders(t *testing.T) {
	gen := &stubTitleGenerator{title: "Should not be used"}
	m, st, _ := newManager(t, gen)
	world, err := m.CreateWorld(context.Background(), st, "w5", "", 0)
	require.NoError(t, err)
	chatID := *world.Snapshot().CurrentChatID

	m.NotifyMessagePersisted(world, &chatID, false)
	require.Equal(t, 0, gen.calls)
}

func TestNotifyMessagePersistedGeneratesTitleForHumanMessage(t *testing.T) {
	gen := &stubTitleGenerator{title: "Weekend Trip Plans"}
	m, st, _ := newManager(t, gen)
	world, err := m.CreateWorld(context.Background(), st, "w6", "", 0)
	require.NoError(t, err)
	chatID := *world.Snapshot().CurrentChatID

	require.NoError(t, st.AppendEvent(context.Background(), models.StoredEvent{
		ID:        "e1",
		Type:      models.StoredMessage,
		WorldID:   world.ID(),
		ChatID:    &chatID,
		Timestamp: time.Now(),
		Payload:   models.MessagePayload{Content: "let's plan a trip", Sender: "human", ChatID: &chatID},
	}))

	m.generateTitle(world, chatID) // call synchronously for deterministic assertion

	chat, ok := world.Chat(chatID)
	require.True(t, ok)
	require.Equal(t, "Weekend Trip Plans", chat.Name)
	require.Equal(t, 1, gen.calls)
}
