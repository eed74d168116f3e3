package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/internal/hitl"
	"github.com/haasonsaas/worldrt/internal/llm"
	"github.com/haasonsaas/worldrt/internal/registry"
	"github.com/haasonsaas/worldrt/internal/storage"
	"github.com/haasonsaas/worldrt/internal/toolvalidate"
	"github.com/haasonsaas/worldrt/pkg/models"
)

type stubExecutor struct {
	content string
	isError bool
	calls   []models.ToolCall
}

func (s *stubExecutor) Execute(ctx context.Context, call models.ToolCall) (string, bool, error) {
	s.calls = append(s.calls, call)
	return s.content, s.isError, nil
}

func newTestWorld(t *testing.T, agent *models.Agent) *registry.World {
	t.Helper()
	st := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.SaveWorld(ctx, &models.World{ID: "w1", Name: "test"}))
	require.NoError(t, st.SaveAgent(ctx, "w1", agent))

	reg := registry.New(st, nil)
	world, err := reg.Load(ctx, "w1")
	require.NoError(t, err)
	return world
}

func TestProcessTurnSkipsSelfEcho(t *testing.T) {
	world := newTestWorld(t, &models.Agent{ID: "alice", Name: "alice"})
	p := New(world, llm.Static{Result: llm.Result{Content: "should not run"}}, nil, nil, hitl.New(0, nil), nil, nil)

	err := p.ProcessTurn(context.Background(), "alice", Inbound{Sender: "Alice", Content: "hi"})
	require.NoError(t, err)

	memory, err := world.Storage().GetMemory(context.Background(), "w1", "alice", nil)
	require.NoError(t, err)
	require.Empty(t, memory)
}

func TestProcessTurnPersistsIncomingAndAssistantTurn(t *testing.T) {
	world := newTestWorld(t, &models.Agent{ID: "alice", Name: "alice", SystemPrompt: "be helpful"})
	p := New(world, llm.Static{Result: llm.Result{Content: "hello there"}}, nil, nil, hitl.New(0, nil), nil, nil)

	err := p.ProcessTurn(context.Background(), "alice", Inbound{Sender: "human", SenderIsHuman: true, Content: "hi"})
	require.NoError(t, err)

	memory, err := world.Storage().GetMemory(context.Background(), "w1", "alice", nil)
	require.NoError(t, err)
	require.Len(t, memory, 2)
	require.Equal(t, models.RoleUser, memory[0].Role)
	require.Equal(t, "hi", memory[0].Content)
	require.Equal(t, models.RoleAssistant, memory[1].Role)
	require.Equal(t, "@human hello there", memory[1].Content)
}

func TestProcessTurnPassThroughSkipsMentionTransform(t *testing.T) {
	world := newTestWorld(t, &models.Agent{ID: "alice", Name: "alice"})
	p := New(world, llm.Static{Result: llm.Result{Content: "<world>pass</world>"}}, nil, nil, hitl.New(0, nil), nil, nil)

	err := p.ProcessTurn(context.Background(), "alice", Inbound{Sender: "human", SenderIsHuman: true, Content: "hi"})
	require.NoError(t, err)

	memory, err := world.Storage().GetMemory(context.Background(), "w1", "alice", nil)
	require.NoError(t, err)
	require.Len(t, memory, 2)
	require.Equal(t, "<world>pass</world>", memory[1].Content)
}

func TestProcessTurnEmptyResponseStillPersistsIncoming(t *testing.T) {
	world := newTestWorld(t, &models.Agent{ID: "alice", Name: "alice"})
	p := New(world, llm.Static{Result: llm.Result{Content: "   "}}, nil, nil, hitl.New(0, nil), nil, nil)

	err := p.ProcessTurn(context.Background(), "alice", Inbound{Sender: "human", SenderIsHuman: true, Content: "hi"})
	require.NoError(t, err)

	memory, err := world.Storage().GetMemory(context.Background(), "w1", "alice", nil)
	require.NoError(t, err)
	require.Len(t, memory, 1)
	require.Equal(t, models.RoleUser, memory[0].Role)
}

func TestProcessTurnExecutesAllowlistedToolWithoutInteractiveHalt(t *testing.T) {
	world := newTestWorld(t, &models.Agent{ID: "alice", Name: "alice"})
	policy := hitl.NewPolicyChecker(&hitl.ApprovalPolicy{
		Allowlist:       []string{"*"},
		DefaultDecision: hitl.ApprovalPending,
	})
	coord := hitl.New(0, policy)

	call := models.ToolCall{ID: "tc1", Type: "function", Function: models.ToolCallFunction{Name: "list_files", Arguments: `{"path":"."}`}}
	schemas := map[string]toolvalidate.Schema{
		"list_files": {Raw: []byte(`{"type":"object","properties":{"path":{"type":"string"}}}`)},
	}

	responses := []llm.Result{
		{Content: "", ToolCalls: []models.ToolCall{call}},
		{Content: "done"},
	}
	seq := &sequencedChat{responses: responses}

	executor := &stubExecutor{content: "file list"}
	p := New(world, seq, executor, schemas, coord, nil, nil)

	err := p.ProcessTurn(context.Background(), "alice", Inbound{Sender: "human", SenderIsHuman: true, Content: "list files"})
	require.NoError(t, err)
	require.Len(t, executor.calls, 1)
	require.Equal(t, "list_files", executor.calls[0].Function.Name)

	memory, err := world.Storage().GetMemory(context.Background(), "w1", "alice", nil)
	require.NoError(t, err)

	var sawToolResult, sawFinalAssistant bool
	for _, m := range memory {
		if m.Role == models.RoleTool && m.ToolCallID == "tc1" {
			sawToolResult = true
			require.Equal(t, "file list", m.Content)
		}
		if m.Role == models.RoleAssistant && m.Content == "@human done" {
			sawFinalAssistant = true
		}
	}
	require.True(t, sawToolResult)
	require.True(t, sawFinalAssistant)
}

func TestProcessTurnHaltsForInteractiveApprovalAndResumesViaHandleToolResult(t *testing.T) {
	world := newTestWorld(t, &models.Agent{ID: "alice", Name: "alice"})
	policy := hitl.NewPolicyChecker(&hitl.ApprovalPolicy{DefaultDecision: hitl.ApprovalPending})
	coord := hitl.New(0, policy)

	call := models.ToolCall{ID: "tc1", Type: "function", Function: models.ToolCallFunction{Name: "run_shell", Arguments: `{}`}}
	responses := []llm.Result{
		{Content: "", ToolCalls: []models.ToolCall{call}},
	}
	seq := &sequencedChat{responses: responses}

	executor := &stubExecutor{content: "ok"}
	p := New(world, seq, executor, nil, coord, nil, nil)

	err := p.ProcessTurn(context.Background(), "alice", Inbound{Sender: "human", SenderIsHuman: true, Content: "run it"})
	require.NoError(t, err)
	require.Empty(t, executor.calls)

	memory, err := world.Storage().GetMemory(context.Background(), "w1", "alice", nil)
	require.NoError(t, err)

	var foundSynthetic bool
	for _, m := range memory {
		for _, tc := range m.ToolCalls {
			if tc.Function.Name == "client.requestApproval" {
				foundSynthetic = true
			}
		}
	}
	require.True(t, foundSynthetic)

	err = p.HandleToolResult(context.Background(), "alice", nil, models.ToolChannelPayload{
		ToolCallID: "tc1",
		Decision:   models.DecisionApprove,
		Scope:      models.ScopeOnce,
		ToolName:   "run_shell",
	})
	require.NoError(t, err)
	require.Len(t, executor.calls, 1)
}

// sequencedChat is a ChatCompletion test double that returns one scripted
// Result per call, in order, then repeats the last response.
type sequencedChat struct {
	responses []llm.Result
	calls     int
}

func (s *sequencedChat) Complete(ctx context.Context, req llm.Request, onChunk func(llm.Chunk)) (llm.Result, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	result := s.responses[idx]
	if onChunk != nil {
		onChunk(llm.Chunk{Text: result.Content})
		onChunk(llm.Chunk{Done: true})
	}
	return result, nil
}
