package hitl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/pkg/models"
)

func TestRequestOptionResolvesOnUserSubmission(t *testing.T) {
	c := New(time.Minute, nil)
	ctx := context.Background()
	bus := worldbus.New("w1", func() *string { return nil })

	ch, requestID := c.RequestOption(ctx, bus, "w1", nil, "Pick one", "msg", []models.HITLOption{{ID: "a"}}, "a", 0)

	accepted, reason := c.SubmitOptionResponse(requestID, "a", nil)
	require.True(t, accepted)
	require.Empty(t, reason)

	select {
	case res := <-ch:
		require.Equal(t, "a", res.OptionID)
		require.Equal(t, models.HITLSourceUser, res.Source)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}
}

func TestRequestOptionRejectsWrongChat(t *testing.T) {
	c := New(time.Minute, nil)
	ctx := context.Background()
	bus := worldbus.New("w1", func() *string { return nil })
	chatID := "chat-a"

	_, requestID := c.RequestOption(ctx, bus, "w1", &chatID, "Pick one", "msg", nil, "", 0)

	otherChat := "chat-b"
	accepted, reason := c.SubmitOptionResponse(requestID, "a", &otherChat)
	require.False(t, accepted)
	require.Contains(t, reason, "belongs to chat")
}

func TestRequestOptionTimesOutWithDefault(t *testing.T) {
	c := New(time.Minute, nil)
	ctx := context.Background()
	bus := worldbus.New("w1", func() *string { return nil })

	ch, _ := c.RequestOption(ctx, bus, "w1", nil, "t", "m", nil, "default-opt", 10)

	select {
	case res := <-ch:
		require.Equal(t, "default-opt", res.OptionID)
		require.Equal(t, models.HITLSourceTimeout, res.Source)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timeout resolution")
	}
}

func TestIsDuplicateApprovalSave(t *testing.T) {
	latest := &models.AgentMessage{
		MessageID: "m1",
		ToolCalls: []models.ToolCall{{Function: models.ToolCallFunction{Name: ClientHumanIntervention}}},
	}
	require.True(t, IsDuplicateApprovalSave(latest, "m1"))
	require.False(t, IsDuplicateApprovalSave(latest, "m2"))
}

func TestToolResultSecurityGate(t *testing.T) {
	memory := []models.AgentMessage{
		{ToolCalls: []models.ToolCall{{ID: "call-1"}}},
	}
	require.True(t, ToolResultSecurityGate(memory, "call-1"))
	require.False(t, ToolResultSecurityGate(memory, "call-unknown"))
}

func TestPolicyCheckerDenylistBeatsAllowlist(t *testing.T) {
	p := NewPolicyChecker(&ApprovalPolicy{
		Allowlist: []string{"run_command"},
		Denylist:  []string{"run_command"},
	})
	decision, _ := p.Check("agent-1", "run_command")
	require.Equal(t, ApprovalDenied, decision)
}

func TestPolicyCheckerSkillAllowlist(t *testing.T) {
	p := NewPolicyChecker(DefaultApprovalPolicy())
	p.RegisterSkillTools([]string{"deploy_skill"})
	decision, reason := p.Check("agent-1", "deploy_skill")
	require.Equal(t, ApprovalAllowed, decision)
	require.Equal(t, "tool provided by skill", reason)
}

func TestPolicyCheckerSafeBinWildcard(t *testing.T) {
	p := NewPolicyChecker(&ApprovalPolicy{SafeBins: []string{"read_*"}, DefaultDecision: ApprovalPending})
	decision, _ := p.Check("agent-1", "read_file")
	require.Equal(t, ApprovalAllowed, decision)
}
