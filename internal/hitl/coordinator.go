// Package hitl implements the Human-in-the-Loop approval coordinator:
// generic option requests with timeout resolution, the
// human_intervention.request -> client.humanIntervention synthetic tool
// call transform, and the security-gated tool-result response path.
//
// Grounded on a precedent in internal/agent/approval.go (ApprovalChecker,
// ApprovalPolicy, ApprovalStore, request TTL/pruning) and
// internal/gateway/control_plane.go's request/response correlation by id.
package hitl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/pkg/models"
)

const (
	humanInterventionToolName = "human_intervention.request"
	ClientHumanIntervention   = "client.humanIntervention"
)

type pendingRequest struct {
	request  models.HITLRequest
	resolve  chan models.HITLResolution
	timer    *time.Timer
	resolved bool
}

// Coordinator manages in-flight HITL option requests for a single runtime.
type Coordinator struct {
	mu             sync.Mutex
	pending        map[string]*pendingRequest
	defaultTimeout time.Duration
	policy         *PolicyChecker
}

// New creates a Coordinator. defaultTimeout backs requests that don't
// specify their own timeoutMs.
func New(defaultTimeout time.Duration, policy *PolicyChecker) *Coordinator {
	if policy == nil {
		policy = NewPolicyChecker(nil)
	}
	return &Coordinator{
		pending:        make(map[string]*pendingRequest),
		defaultTimeout: defaultTimeout,
		policy:         policy,
	}
}

// Policy returns the coordinator's approval policy checker, consulted by
// the pipeline before falling back to an interactive request.
func (c *Coordinator) Policy() *PolicyChecker { return c.policy }

// RequestOption emits a hitl-option-request system event and returns a
// channel that resolves once the request is answered or times out.
func (c *Coordinator) RequestOption(ctx context.Context, bus *worldbus.Bus, worldID string, chatID *string, title, message string, options []models.HITLOption, defaultOptionID string, timeoutMs int) (<-chan models.HITLResolution, string) {
	requestID := uuid.NewString()
	if timeoutMs <= 0 {
		timeoutMs = int(c.defaultTimeout.Milliseconds())
	}

	req := models.HITLRequest{
		RequestID:       requestID,
		WorldID:         worldID,
		ChatID:          chatID,
		Title:           title,
		Message:         message,
		Options:         options,
		DefaultOptionID: defaultOptionID,
		TimeoutMs:       timeoutMs,
		CreatedAt:       time.Now(),
	}

	pr := &pendingRequest{
		request: req,
		resolve: make(chan models.HITLResolution, 1),
	}

	c.mu.Lock()
	c.pending[requestID] = pr
	c.mu.Unlock()

	pr.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		optionID := defaultOptionID
		c.resolve(requestID, models.HITLResolution{
			OptionID: optionID,
			Source:   models.HITLSourceTimeout,
			ChatID:   chatID,
		})
	})

	if bus != nil {
		bus.EmitSystem(ctx, chatID, models.SystemPayload{
			Kind:            models.SystemHITLOptionRequest,
			RequestID:       requestID,
			Title:           title,
			Message:         message,
			Options:         options,
			DefaultOptionID: defaultOptionID,
			ChatID:          chatID,
		})
	}

	return pr.resolve, requestID
}

// SubmitOptionResponse resolves a pending option request from a user
// decision. If chatID is provided and differs from the request's stored
// chatId, the response is rejected without resolving.
func (c *Coordinator) SubmitOptionResponse(requestID, optionID string, chatID *string) (accepted bool, reason string) {
	c.mu.Lock()
	pr, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return false, "unknown request"
	}

	if chatID != nil {
		stored := pr.request.ChatID
		if stored == nil || *stored != *chatID {
			return false, fmt.Sprintf("belongs to chat %v", storedChatLabel(stored))
		}
	}

	c.resolve(requestID, models.HITLResolution{
		OptionID: optionID,
		Source:   models.HITLSourceUser,
		ChatID:   pr.request.ChatID,
	})
	return true, ""
}

func storedChatLabel(chatID *string) string {
	if chatID == nil {
		return "<world>"
	}
	return *chatID
}

func (c *Coordinator) resolve(requestID string, resolution models.HITLResolution) {
	c.mu.Lock()
	pr, ok := c.pending[requestID]
	if !ok || pr.resolved {
		c.mu.Unlock()
		return
	}
	pr.resolved = true
	delete(c.pending, requestID)
	c.mu.Unlock()

	if pr.timer != nil {
		pr.timer.Stop()
	}
	pr.resolve <- resolution
	close(pr.resolve)
}

// Cancel resolves a pending request with source=cancel, used when a world
// or chat holding the request is deleted.
func (c *Coordinator) Cancel(requestID string) {
	c.mu.Lock()
	pr, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.resolve(requestID, models.HITLResolution{Source: models.HITLSourceCancel, ChatID: pr.request.ChatID})
}

// ToolApprovalOutcome is the result of transforming a
// human_intervention.request tool call into the client-addressed protocol.
type ToolApprovalOutcome struct {
	SyntheticCall   models.ToolCall
	ApprovalMessage models.AgentMessage
	StopProcessing  bool
}

// IsHumanInterventionRequest reports whether a tool call is the
// domain-specific approval-request call this coordinator intercepts before execution.
func IsHumanInterventionRequest(call models.ToolCall) bool {
	return call.Function.Name == humanInterventionToolName
}

// TransformToolApproval builds the client.humanIntervention synthetic call
// and the assistant memory entry the pipeline must persist (idempotently —
// see IsDuplicateApprovalSave) before halting the turn.
func TransformToolApproval(original models.ToolCall, assistantContent, messageID string, prompt string, options []models.HITLOption, toolContext map[string]any) ToolApprovalOutcome {
	synthetic := models.ToolCall{
		ID:   original.ID,
		Type: "function",
		Function: models.ToolCallFunction{
			Name: ClientHumanIntervention,
		},
	}

	approvalMsg := models.AgentMessage{
		Role:      models.RoleAssistant,
		Content:   assistantContent,
		MessageID: messageID,
		ToolCalls: []models.ToolCall{synthetic},
		ToolCallStatus: map[string]*models.ToolCallStatus{
			original.ID: {Complete: false, Result: nil},
		},
	}

	return ToolApprovalOutcome{
		SyntheticCall:   synthetic,
		ApprovalMessage: approvalMsg,
		StopProcessing:  true,
	}
}

// IsDuplicateApprovalSave reports whether the latest memory entry already
// recorded this exact approval request (same outer messageId), so the
// pipeline must not re-append it.
func IsDuplicateApprovalSave(latest *models.AgentMessage, incomingMessageID string) bool {
	if latest == nil || incomingMessageID == "" {
		return false
	}
	if latest.MessageID != incomingMessageID {
		return false
	}
	for _, tc := range latest.ToolCalls {
		if tc.Function.Name == ClientHumanIntervention {
			return true
		}
	}
	return false
}

// ToolResultSecurityGate reports whether toolCallID is found among the
// tool_calls of some prior assistant memory entry — the check HandleToolResult
// MUST pass before a tool-result decision is persisted or executed.
func ToolResultSecurityGate(memory []models.AgentMessage, toolCallID string) bool {
	for _, m := range memory {
		for _, tc := range m.ToolCalls {
			if tc.ID == toolCallID {
				return true
			}
		}
	}
	return false
}

// DeniedResultContent is the memory entry content appended when a tool
// call is denied by the user.
const DeniedResultContent = "Tool execution was denied by the user."

// ApplyToolResultStatus updates the owning assistant entry's
// toolCallStatus map in place to reflect the resolved decision.
func ApplyToolResultStatus(status map[string]*models.ToolCallStatus, toolCallID string, decision models.ToolDecision, scope models.ApprovalScope) {
	if status == nil {
		return
	}
	status[toolCallID] = &models.ToolCallStatus{
		Complete: true,
		Result: map[string]any{
			"decision": decision,
			"scope":    scope,
		},
	}
}
