package messageprep

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/pkg/models"
)

func TestPrepareOrdersSystemHistoryCurrent(t *testing.T) {
	history := []models.AgentMessage{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "second"},
	}
	current := models.AgentMessage{Role: models.RoleUser, Content: "current"}

	out := Prepare("be helpful", history, current, nil, false)
	require.Len(t, out, 4)
	require.Equal(t, models.RoleSystem, out[0].Role)
	require.Equal(t, "first", out[1].Content)
	require.Equal(t, "second", out[2].Content)
	require.Equal(t, "current", out[3].Content)
}

func TestPrepareOmitsEmptySystemPrompt(t *testing.T) {
	out := Prepare("", nil, models.AgentMessage{Content: "current"}, nil, false)
	require.Len(t, out, 1)
	require.Equal(t, "current", out[0].Content)
}

func TestPrepareFiltersByChatID(t *testing.T) {
	chatA, chatB := "a", "b"
	history := []models.AgentMessage{
		{Content: "in-a", ChatID: &chatA},
		{Content: "in-b", ChatID: &chatB},
		{Content: "no-chat"},
	}
	out := Prepare("", history, models.AgentMessage{Content: "current"}, &chatA, true)
	require.Len(t, out, 2)
	require.Equal(t, "in-a", out[0].Content)
	require.Equal(t, "current", out[1].Content)
}

func TestPrepareDoesNotDeduplicate(t *testing.T) {
	history := []models.AgentMessage{
		{Content: "dup"},
		{Content: "dup"},
	}
	out := Prepare("", history, models.AgentMessage{Content: "current"}, nil, false)
	require.Len(t, out, 3)
}

func TestPrepareDropsClientOnlyToolCalls(t *testing.T) {
	history := []models.AgentMessage{
		{
			Role:    models.RoleAssistant,
			Content: "",
			ToolCalls: []models.ToolCall{
				{ID: "1", Function: models.ToolCallFunction{Name: "client.humanIntervention"}},
			},
		},
	}
	out := Prepare("", history, models.AgentMessage{Content: "current"}, nil, false)
	require.Len(t, out, 1)
	require.Equal(t, "current", out[0].Content)
}

func TestPrepareKeepsNonClientToolCallsAlongsideDropped(t *testing.T) {
	history := []models.AgentMessage{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "1", Function: models.ToolCallFunction{Name: "client.requestApproval"}},
				{ID: "2", Function: models.ToolCallFunction{Name: "read_file"}},
			},
		},
	}
	out := Prepare("", history, models.AgentMessage{Content: "current"}, nil, false)
	require.Len(t, out, 2)
	require.Len(t, out[0].ToolCalls, 1)
	require.Equal(t, "read_file", out[0].ToolCalls[0].Function.Name)
}

func TestPrepareDropsApprovalAndHitlToolResults(t *testing.T) {
	history := []models.AgentMessage{
		{Role: models.RoleTool, ToolCallID: "approval_123", Content: "approved"},
		{Role: models.RoleTool, ToolCallID: "hitl_456", Content: "resolved"},
		{Role: models.RoleTool, ToolCallID: "regular-1", Content: "ok"},
	}
	out := Prepare("", history, models.AgentMessage{Content: "current"}, nil, false)
	require.Len(t, out, 2)
	require.Equal(t, "ok", out[0].Content)
}
