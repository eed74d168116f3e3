package worldbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/pkg/models"
)

func strp(s string) *string { return &s }

func TestEmitChatIDFixedAtEmission(t *testing.T) {
	current := strp("chat-A")
	b := New("w1", func() *string { return current })

	var got Event
	b.On(models.ChannelSSE, func(ctx context.Context, e Event) { got = e })

	b.EmitSSE(context.Background(), nil, models.SSEPayload{Type: models.SSEChunk, Content: "A1"})
	require.Equal(t, "chat-A", *got.ChatID)

	// Moving the current-chat pointer must not retroactively change the event.
	current = strp("chat-B")
	require.Equal(t, "chat-A", *got.ChatID)
}

func TestMatchesChatScope(t *testing.T) {
	a := strp("chat-A")
	b := strp("chat-B")

	msgToA := Event{Channel: models.ChannelSSE, ChatID: a}
	require.True(t, MatchesChatScope(a, msgToA))
	require.False(t, MatchesChatScope(b, msgToA))
	require.True(t, MatchesChatScope(nil, msgToA))
}

func TestMatchesChatScopeActivityBypassesFilter(t *testing.T) {
	activity := Event{
		Channel: models.ChannelWorld,
		ChatID:  nil,
		World:   &models.WorldPayload{Type: models.WorldIdle},
	}
	scoped := strp("chat-A")
	require.True(t, MatchesChatScope(scoped, activity))
}

func TestConcurrentChatsIsolated(t *testing.T) {
	current := strp("chat-A")
	b := New("w1", func() *string { return current })

	var chatAEvents, chatBEvents []Event
	b.On(models.ChannelSSE, func(ctx context.Context, e Event) {
		if MatchesChatScope(strp("chat-A"), e) {
			chatAEvents = append(chatAEvents, e)
		}
	})
	b.On(models.ChannelSSE, func(ctx context.Context, e Event) {
		if MatchesChatScope(strp("chat-B"), e) {
			chatBEvents = append(chatBEvents, e)
		}
	})

	ctx := context.Background()
	b.EmitSSE(ctx, a("chat-A"), models.SSEPayload{Type: models.SSEChunk, Content: "A1"})
	current = strp("chat-B")
	b.EmitSSE(ctx, a("chat-A"), models.SSEPayload{Type: models.SSEChunk, Content: "Still for chat A"})
	b.EmitSSE(ctx, a("chat-B"), models.SSEPayload{Type: models.SSEChunk, Content: "B1"})

	require.Len(t, chatAEvents, 2)
	require.Len(t, chatBEvents, 1)
	require.Equal(t, "B1", chatBEvents[0].SSE.Content)
}

func a(s string) *string { return &s }
