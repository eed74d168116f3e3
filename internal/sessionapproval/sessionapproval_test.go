package sessionapproval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/pkg/models"
)

func approvalMessage(t *testing.T, decision, scope, toolName, wd string, args map[string]any) models.AgentMessage {
	t.Helper()
	inner := map[string]any{"decision": decision, "scope": scope, "toolName": toolName}
	if wd != "" {
		inner["workingDirectory"] = wd
	}
	if args != nil {
		inner["toolArgs"] = args
	}
	innerJSON, err := json.Marshal(inner)
	require.NoError(t, err)
	outer := map[string]any{"__type": "tool_result", "content": string(innerJSON)}
	outerJSON, err := json.Marshal(outer)
	require.NoError(t, err)
	return models.AgentMessage{Role: models.RoleTool, Content: string(outerJSON)}
}

func TestMatchSessionApprovalExactToolName(t *testing.T) {
	memory := []models.AgentMessage{
		approvalMessage(t, "approve", "session", "run_command", "", nil),
	}
	require.True(t, Match(memory, Request{ToolName: "RUN_COMMAND"}))
}

func TestMatchRequiresSessionScope(t *testing.T) {
	memory := []models.AgentMessage{
		approvalMessage(t, "approve", "once", "run_command", "", nil),
	}
	require.False(t, Match(memory, Request{ToolName: "run_command"}))
}

func TestMatchDenialNeverMatches(t *testing.T) {
	memory := []models.AgentMessage{
		approvalMessage(t, "deny", "session", "run_command", "", nil),
	}
	require.False(t, Match(memory, Request{ToolName: "run_command"}))
}

func TestMatchWorkingDirectoryMustMatchWhenSet(t *testing.T) {
	memory := []models.AgentMessage{
		approvalMessage(t, "approve", "session", "run_command", "/app", nil),
	}
	require.False(t, Match(memory, Request{ToolName: "run_command", WorkingDirectory: "/other"}))
	require.True(t, Match(memory, Request{ToolName: "run_command", WorkingDirectory: "/app"}))
}

func TestMatchToolArgsDeepEquality(t *testing.T) {
	memory := []models.AgentMessage{
		approvalMessage(t, "approve", "session", "run_command", "", map[string]any{"cmd": "ls", "flags": []any{"-la"}}),
	}
	require.True(t, Match(memory, Request{ToolName: "run_command", ToolArgs: map[string]any{"flags": []any{"-la"}, "cmd": "ls"}}))
	require.False(t, Match(memory, Request{ToolName: "run_command", ToolArgs: map[string]any{"cmd": "rm"}}))
}

func TestMatchLegacyTextFallback(t *testing.T) {
	memory := []models.AgentMessage{
		{Role: models.RoleTool, Content: "approve_session for run_command"},
	}
	require.True(t, Match(memory, Request{ToolName: "run_command"}))
}

func TestMatchScansBackwardsMostRecentWins(t *testing.T) {
	memory := []models.AgentMessage{
		approvalMessage(t, "approve", "session", "run_command", "", nil),
		approvalMessage(t, "deny", "session", "run_command", "", nil),
	}
	require.False(t, Match(memory, Request{ToolName: "run_command"}))
}
