// Package pipeline implements the agent processing pipeline: the per-turn
// orchestration that takes one inbound world message, prepares it for the
// LLM, runs the auto-mention transform on the response, and drives the
// tool-call loop through validation, policy, session-approval, and HITL.
//
// Grounded on a precedent in internal/agent/runner.go turn loop (load
// history, call provider, stream chunks, drain tool calls, persist) and
// internal/gateway/message_executor.go's strict "load then persist" memory
// discipline, generalized to this runtime's tool-approval gating.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/worldrt/internal/eventmeta"
	"github.com/haasonsaas/worldrt/internal/hitl"
	"github.com/haasonsaas/worldrt/internal/ids"
	"github.com/haasonsaas/worldrt/internal/llm"
	"github.com/haasonsaas/worldrt/internal/mention"
	"github.com/haasonsaas/worldrt/internal/messageprep"
	"github.com/haasonsaas/worldrt/internal/registry"
	"github.com/haasonsaas/worldrt/internal/sessionapproval"
	"github.com/haasonsaas/worldrt/internal/toolvalidate"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// ToolExecutor runs one validated, approved tool call and returns its
// result content. Grounded on a precedent in internal/agent.Tool.Execute
// signature, narrowed to the shape this pipeline actually needs: a call already
// resolved to a name and JSON argument string, not a tool-discovery
// interface (discovery and schema advertisement are the caller's concern).
type ToolExecutor interface {
	Execute(ctx context.Context, call models.ToolCall) (content string, isError bool, err error)
}

// maxToolLoops bounds the tool-call loop so a misbehaving provider that
// never stops requesting tools cannot run an agent turn forever.
const maxToolLoops = 8

// Inbound is one world message event directed at an agent's turn.
type Inbound struct {
	Sender           string
	SenderIsHuman    bool
	SenderIsAgent    bool // false + !SenderIsHuman => system sender
	Content          string
	ChatID           *string
	MessageID        string
	ReplyToMessageID string
}

// Pipeline orchestrates one agent's turn processing for a world.
type Pipeline struct {
	world   *registry.World
	chat    llm.ChatCompletion
	tools   ToolExecutor
	schemas map[string]toolvalidate.Schema
	coord   *hitl.Coordinator
	tracker activityTracker
	logger  *slog.Logger
}

// activityTracker matches internal/activity.Tracker's Start/End signature;
// declared locally so tests can supply a no-op double without importing
// prometheus.
type activityTracker interface {
	Start(ctx context.Context, source string)
	End(ctx context.Context, source string)
}

type noopTracker struct{}

func (noopTracker) Start(context.Context, string) {}
func (noopTracker) End(context.Context, string)   {}

// New creates a Pipeline. tracker may be nil, in which case activity
// events are skipped entirely.
func New(world *registry.World, chat llm.ChatCompletion, tools ToolExecutor, schemas map[string]toolvalidate.Schema, coord *hitl.Coordinator, tracker activityTracker, logger *slog.Logger) *Pipeline {
	if tracker == nil {
		tracker = noopTracker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		world:   world,
		chat:    chat,
		tools:   tools,
		schemas: schemas,
		coord:   coord,
		tracker: tracker,
		logger:  logger.With("component", "pipeline"),
	}
}

// ProcessTurn runs one agent's turn in response to an inbound world
// message. It returns once the turn reaches a natural stop: an empty
// response, a pass-through, no further tool calls, or a halt awaiting an
// interactive HITL/session-approval decision (see HandleToolResult).
func (p *Pipeline) ProcessTurn(ctx context.Context, agentID string, in Inbound) error {
	if ids.EqualFold(in.Sender, agentID) {
		return nil
	}

	agent, ok := p.world.Agent(agentID)
	if !ok {
		return fmt.Errorf("pipeline: unknown agent %q", agentID)
	}

	history, err := p.world.Storage().GetMemory(ctx, p.world.ID(), agentID, nil)
	if err != nil {
		return fmt.Errorf("pipeline: load memory: %w", err)
	}

	current := models.AgentMessage{
		Role:             models.RoleUser,
		Content:          in.Content,
		Sender:           in.Sender,
		ChatID:           in.ChatID,
		CreatedAt:        time.Now(),
		MessageID:        orNewID(in.MessageID),
		ReplyToMessageID: in.ReplyToMessageID,
	}

	source := "agent:" + agentID
	p.tracker.Start(ctx, source)
	defer p.tracker.End(ctx, source)

	prepared := messageprep.Prepare(agent.SystemPrompt, history, current, in.ChatID, true)

	for loop := 0; loop < maxToolLoops; loop++ {
		result, err := p.call(ctx, agentID, agent.Model, prepared, in.ChatID)
		if err != nil {
			return fmt.Errorf("pipeline: llm call: %w", err)
		}

		if mention.HasPassThrough(result.Content) {
			if loop == 0 {
				if err := p.appendMemory(ctx, agentID, current); err != nil {
					return err
				}
			}
			assistant := models.AgentMessage{
				Role:      models.RoleAssistant,
				Content:   result.Content,
				Sender:    agentID,
				ChatID:    in.ChatID,
				CreatedAt: time.Now(),
				MessageID: uuid.NewString(),
			}
			if err := p.appendMemory(ctx, agentID, assistant); err != nil {
				return err
			}
			p.world.Bus().EmitSystem(ctx, in.ChatID, models.SystemPayload{
				Kind:    models.SystemPassThrough,
				Message: fmt.Sprintf("%s is passing control back", agentID),
				ChatID:  in.ChatID,
			})
			return nil
		}

		senderClass := classify(in)
		normalized := mention.Transform(result.Content, agentID, in.Sender, senderClass)
		empty := mention.IsEmptyResponse(normalized)

		if loop == 0 {
			if err := p.appendMemory(ctx, agentID, current); err != nil {
				return err
			}
		}

		if empty && len(result.ToolCalls) == 0 {
			return nil
		}

		assistant := models.AgentMessage{
			Role:      models.RoleAssistant,
			Content:   normalized,
			Sender:    agentID,
			ChatID:    in.ChatID,
			CreatedAt: time.Now(),
			MessageID: uuid.NewString(),
			ToolCalls: result.ToolCalls,
		}
		if len(result.ToolCalls) > 0 {
			assistant.ToolCallStatus = make(map[string]*models.ToolCallStatus, len(result.ToolCalls))
			for _, tc := range result.ToolCalls {
				assistant.ToolCallStatus[tc.ID] = &models.ToolCallStatus{Complete: false}
			}
		}
		if err := p.appendMemory(ctx, agentID, assistant); err != nil {
			return err
		}

		if len(result.ToolCalls) == 0 {
			return nil
		}

		halted, err := p.runToolLoop(ctx, agentID, in.ChatID, result.ToolCalls)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}

		memory, err := p.world.Storage().GetMemory(ctx, p.world.ID(), agentID, nil)
		if err != nil {
			return fmt.Errorf("pipeline: reload memory: %w", err)
		}
		prepared = prepareFromMemory(agent.SystemPrompt, memory, in.ChatID)
	}

	p.logger.Warn("tool loop bound reached", "agent", agentID, "loops", maxToolLoops)
	return nil
}

// call invokes the ChatCompletion capability and streams the response onto
// the sse channel tagged with the triggering event's chatId.
func (p *Pipeline) call(ctx context.Context, agentID, model string, messages []models.AgentMessage, chatID *string) (llm.Result, error) {
	specs := p.toolSpecs()

	p.world.Bus().EmitSSE(ctx, chatID, models.SSEPayload{Type: models.SSEStart, AgentName: agentID, ChatID: chatID})
	result, err := p.chat.Complete(ctx, llm.Request{
		Messages: messages,
		Tools:    specs,
		Model:    model,
		Stream:   true,
	}, func(c llm.Chunk) {
		if c.Error != nil {
			p.world.Bus().EmitSSE(ctx, chatID, models.SSEPayload{Type: models.SSEError, AgentName: agentID, Content: c.Error.Error(), ChatID: chatID})
			return
		}
		if c.Done {
			return
		}
		p.world.Bus().EmitSSE(ctx, chatID, models.SSEPayload{Type: models.SSEChunk, AgentName: agentID, Content: c.Text, ChatID: chatID})
	})
	if err != nil {
		return result, err
	}
	p.world.Bus().EmitSSE(ctx, chatID, models.SSEPayload{Type: models.SSEComplete, AgentName: agentID, Content: result.Content, ChatID: chatID})
	return result, nil
}

func (p *Pipeline) toolSpecs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(p.schemas))
	for name, schema := range p.schemas {
		specs = append(specs, llm.ToolSpec{Name: name, Parameters: json.RawMessage(schema.Raw)})
	}
	return specs
}

// runToolLoop validates, approves, and executes a round of tool calls.
// It returns halted=true when any call requires an interactive decision,
// in which case the turn must stop and resume later via HandleToolResult.
func (p *Pipeline) runToolLoop(ctx context.Context, agentID string, chatID *string, calls []models.ToolCall) (halted bool, err error) {
	pub := toolvalidate.BusPublisher{Bus: p.world.Bus()}
	validated := toolvalidate.Validate(calls, p.schemas, pub, chatID, p.logger)

	for _, result := range validated.ToolResults {
		if err := p.appendMemory(ctx, agentID, result); err != nil {
			return false, err
		}
	}

	memory, err := p.world.Storage().GetMemory(ctx, p.world.ID(), agentID, nil)
	if err != nil {
		return false, fmt.Errorf("pipeline: load memory for approval check: %w", err)
	}

	for _, call := range validated.Valid {
		args := decodeArgs(call.Function.Arguments)
		workingDir, _ := args["workingDirectory"].(string)

		decision, _ := p.coord.Policy().Check(agentID, call.Function.Name)
		switch decision {
		case hitl.ApprovalDenied:
			if err := p.appendMemory(ctx, agentID, deniedResult(call)); err != nil {
				return false, err
			}
			continue
		case hitl.ApprovalAllowed:
			if err := p.executeAndRecord(ctx, agentID, chatID, call); err != nil {
				return false, err
			}
			continue
		}

		if sessionapproval.Match(memory, sessionapproval.Request{
			ToolName:         call.Function.Name,
			ToolArgs:         args,
			WorkingDirectory: workingDir,
		}) {
			if err := p.executeAndRecord(ctx, agentID, chatID, call); err != nil {
				return false, err
			}
			continue
		}

		if hitl.IsHumanInterventionRequest(call) {
			outcome := hitl.TransformToolApproval(call, "", uuid.NewString(), "", nil, nil)
			if err := p.appendMemory(ctx, agentID, outcome.ApprovalMessage); err != nil {
				return false, err
			}
			return true, nil
		}

		syntheticMsg := requestSessionApprovalMessage(call, workingDir, args)
		if err := p.appendMemory(ctx, agentID, syntheticMsg); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

func (p *Pipeline) executeAndRecord(ctx context.Context, agentID string, chatID *string, call models.ToolCall) error {
	p.world.Bus().EmitWorld(ctx, chatID, models.WorldPayload{
		Type:   models.WorldToolStart,
		Source: agentID,
		ToolExecution: &models.ToolExecutionInfo{
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
		},
	})

	content, isError, err := p.tools.Execute(ctx, call)
	if err != nil {
		content = err.Error()
		isError = true
	}

	eventType := models.WorldToolResult
	errMsg := ""
	if isError {
		eventType = models.WorldToolError
		errMsg = content
	}
	p.world.Bus().EmitWorld(ctx, chatID, models.WorldPayload{
		Type:   eventType,
		Source: agentID,
		ToolExecution: &models.ToolExecutionInfo{
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Error:      errMsg,
		},
	})

	return p.appendMemory(ctx, agentID, models.AgentMessage{
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		CreatedAt:  time.Now(),
		ChatID:     chatID,
	})
}

// HandleToolResult resumes a halted turn with a transport-relayed approval
// decision (the third HITL response modality: tool-channel responses). It security-
// gates the decision against the agent's own memory before acting on it.
func (p *Pipeline) HandleToolResult(ctx context.Context, agentID string, chatID *string, decision models.ToolChannelPayload) error {
	memory, err := p.world.Storage().GetMemory(ctx, p.world.ID(), agentID, nil)
	if err != nil {
		return fmt.Errorf("pipeline: load memory: %w", err)
	}
	if !hitl.ToolResultSecurityGate(memory, decision.ToolCallID) {
		p.logger.Warn("dropped tool-result for unknown toolCallId", "agent", agentID, "toolCallId", decision.ToolCallID)
		return nil
	}

	for i := len(memory) - 1; i >= 0; i-- {
		if status, ok := memory[i].ToolCallStatus[decision.ToolCallID]; ok && status != nil {
			hitl.ApplyToolResultStatus(memory[i].ToolCallStatus, decision.ToolCallID, decision.Decision, decision.Scope)
			if err := p.world.Storage().SaveAgentMemory(ctx, p.world.ID(), agentID, memory); err != nil {
				return fmt.Errorf("pipeline: save tool-result status: %w", err)
			}
			break
		}
	}

	call := models.ToolCall{
		ID:   decision.ToolCallID,
		Type: "function",
		Function: models.ToolCallFunction{
			Name:      decision.ToolName,
			Arguments: argsToJSON(decision.ToolArgs),
		},
	}

	if decision.Decision != models.DecisionApprove {
		return p.appendMemory(ctx, agentID, models.AgentMessage{
			Role:       models.RoleTool,
			Content:    hitl.DeniedResultContent,
			ToolCallID: decision.ToolCallID,
			CreatedAt:  time.Now(),
			ChatID:     chatID,
		})
	}

	if decision.Scope == models.ScopeSession {
		if err := p.appendMemory(ctx, agentID, sessionApprovalRecord(decision)); err != nil {
			return err
		}
	}

	return p.executeAndRecord(ctx, agentID, chatID, call)
}

func (p *Pipeline) appendMemory(ctx context.Context, agentID string, msg models.AgentMessage) error {
	memory, err := p.world.Storage().GetMemory(ctx, p.world.ID(), agentID, nil)
	if err != nil {
		return fmt.Errorf("pipeline: load memory before append: %w", err)
	}
	memory = append(memory, msg)
	if err := p.world.Storage().SaveAgentMemory(ctx, p.world.ID(), agentID, memory); err != nil {
		return fmt.Errorf("pipeline: save memory: %w", err)
	}
	p.publishAndStore(ctx, agentID, msg)
	return nil
}

func (p *Pipeline) publishAndStore(ctx context.Context, agentID string, msg models.AgentMessage) {
	payload := models.MessagePayload{
		Content:          msg.Content,
		Sender:           orAgent(msg.Sender, agentID),
		MessageID:        msg.MessageID,
		Timestamp:        msg.CreatedAt,
		ChatID:           msg.ChatID,
		ReplyToMessageID: msg.ReplyToMessageID,
		Role:             msg.Role,
		ToolCalls:        msg.ToolCalls,
		ToolCallID:       msg.ToolCallID,
		ToolCallStatus:   msg.ToolCallStatus,
	}
	p.world.Bus().EmitMessage(ctx, msg.ChatID, payload)

	meta := eventmeta.Derive(eventmeta.Input{
		Sender:            payload.Sender,
		SenderIsHuman:     msg.Role == models.RoleUser && !ids.EqualFold(payload.Sender, agentID),
		SenderIsAgent:     msg.Role == models.RoleAssistant,
		Content:           msg.Content,
		ReplyToMessageID:  msg.ReplyToMessageID,
		ToolCalls:         msg.ToolCalls,
		AllAgentIDs:       p.world.AgentIDs(),
		Resolve:           p.world.ResolveAgentByName,
	})

	if err := p.world.Storage().AppendEvent(ctx, models.StoredEvent{
		ID:        uuid.NewString(),
		Type:      models.StoredMessage,
		WorldID:   p.world.ID(),
		ChatID:    msg.ChatID,
		Timestamp: msg.CreatedAt,
		Payload:   payload,
		Meta:      &meta,
	}); err != nil {
		p.logger.Warn("append event failed", "error", err)
	}
}

func prepareFromMemory(systemPrompt string, memory []models.AgentMessage, chatFilter *string) []models.AgentMessage {
	if len(memory) == 0 {
		return messageprep.Prepare(systemPrompt, nil, models.AgentMessage{}, chatFilter, true)
	}
	current := memory[len(memory)-1]
	history := memory[:len(memory)-1]
	return messageprep.Prepare(systemPrompt, history, current, chatFilter, true)
}

func classify(in Inbound) mention.SenderClass {
	switch {
	case in.SenderIsHuman:
		return mention.SenderHuman
	case in.SenderIsAgent:
		return mention.SenderAgent
	default:
		return mention.SenderSystem
	}
}

func decodeArgs(argsJSON string) map[string]any {
	if argsJSON == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func argsToJSON(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	out, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func deniedResult(call models.ToolCall) models.AgentMessage {
	return models.AgentMessage{
		Role:       models.RoleTool,
		Content:    hitl.DeniedResultContent,
		ToolCallID: call.ID,
		CreatedAt:  time.Now(),
	}
}

// requestSessionApprovalMessage builds the client.requestApproval synthetic
// assistant entry emitted when a non-human_intervention tool call needs an
// interactive decision the session-approval matcher couldn't resolve.
func requestSessionApprovalMessage(call models.ToolCall, workingDir string, args map[string]any) models.AgentMessage {
	synthetic := models.ToolCall{
		ID:   call.ID,
		Type: "function",
		Function: models.ToolCallFunction{
			Name: "client.requestApproval",
		},
	}
	return models.AgentMessage{
		Role:      models.RoleAssistant,
		MessageID: uuid.NewString(),
		CreatedAt: time.Now(),
		ToolCalls: []models.ToolCall{synthetic},
		ToolCallStatus: map[string]*models.ToolCallStatus{
			call.ID: {Complete: false},
		},
	}
}

// sessionApprovalRecord builds the {__type: "tool_result", content:
// JSON(innerApproval)} envelope the session-approval matcher scans
// memory for.
func sessionApprovalRecord(decision models.ToolChannelPayload) models.AgentMessage {
	inner := map[string]any{
		"decision":         decision.Decision,
		"scope":            decision.Scope,
		"toolName":         decision.ToolName,
		"toolArgs":         decision.ToolArgs,
		"workingDirectory": decision.WorkingDirectory,
	}
	innerJSON, _ := json.Marshal(inner)
	envelope := map[string]any{
		"__type":  "tool_result",
		"content": string(innerJSON),
	}
	envelopeJSON, _ := json.Marshal(envelope)
	return models.AgentMessage{
		Role:      models.RoleTool,
		Content:   string(envelopeJSON),
		CreatedAt: time.Now(),
	}
}

func orAgent(sender, agentID string) string {
	if sender == "" {
		return agentID
	}
	return sender
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

