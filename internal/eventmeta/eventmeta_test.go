package eventmeta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/pkg/models"
)

func resolver(agents map[string]string) AgentResolver {
	return func(name string) (string, bool) {
		for id, n := range agents {
			if n == name {
				return id, true
			}
		}
		return "", false
	}
}

func TestDeriveHumanBroadcast(t *testing.T) {
	meta := Derive(Input{
		Sender:        "human",
		SenderIsHuman: true,
		Content:       "Hello @alice, how are you?",
		AllAgentIDs:   []string{"alice", "bob"},
		Resolve:       resolver(map[string]string{"alice": "alice"}),
	})
	require.True(t, meta.IsHumanMessage)
	require.Equal(t, models.DirectionBroadcast, meta.MessageDirection)
	require.ElementsMatch(t, []string{"alice", "bob"}, meta.OwnerAgentIDs)
	require.False(t, meta.IsCrossAgentMsg)
}

func TestDeriveAgentDirectedAtAgent(t *testing.T) {
	meta := Derive(Input{
		Sender:        "alice",
		SenderIsAgent: true,
		Content:       "@bob can you check this?",
		AllAgentIDs:   []string{"alice", "bob", "carol"},
		Resolve:       resolver(map[string]string{"bob": "bob"}),
	})
	require.Equal(t, "bob", meta.RecipientAgentID)
	require.Equal(t, models.DirectionOutgoing, meta.MessageDirection)
	require.ElementsMatch(t, []string{"alice", "bob"}, meta.OwnerAgentIDs)
	require.True(t, meta.IsCrossAgentMsg)
}

func TestDeriveAgentBroadcastNoMention(t *testing.T) {
	meta := Derive(Input{
		Sender:        "alice",
		SenderIsAgent: true,
		Content:       "Just thinking out loud here.",
		AllAgentIDs:   []string{"alice", "bob"},
		Resolve:       resolver(nil),
	})
	require.Equal(t, models.DirectionBroadcast, meta.MessageDirection)
	require.ElementsMatch(t, []string{"alice", "bob"}, meta.OwnerAgentIDs)
	require.False(t, meta.IsCrossAgentMsg)
}

func TestDeriveReplyThreadDepth(t *testing.T) {
	meta := Derive(Input{
		Sender:            "alice",
		SenderIsAgent:     true,
		Content:           "sure thing",
		ReplyToMessageID:  "msg-1",
		AllAgentIDs:       []string{"alice", "bob"},
		Resolve:           resolver(nil),
	})
	require.True(t, meta.IsReply)
	require.Equal(t, 1, meta.ThreadDepth)
	require.Equal(t, "msg-1", meta.ThreadRootID)
}

func TestDeriveToolCallCounting(t *testing.T) {
	meta := Derive(Input{
		Sender:        "alice",
		SenderIsAgent: true,
		Content:       "running tools",
		ToolCalls:     []models.ToolCall{{ID: "t1"}, {ID: "t2"}},
		AllAgentIDs:   []string{"alice"},
		Resolve:       resolver(nil),
	})
	require.True(t, meta.HasToolCalls)
	require.Equal(t, 2, meta.ToolCallCount)
}
