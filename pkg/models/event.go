package models

import "time"

// EventChannel identifies one of the world bus's logical channels.
type EventChannel string

const (
	ChannelMessage EventChannel = "message"
	ChannelSSE     EventChannel = "sse"
	ChannelWorld   EventChannel = "world"
	ChannelSystem  EventChannel = "system"
	ChannelTool    EventChannel = "tool"
)

// SSEType discriminates the sub-events carried on the sse channel.
type SSEType string

const (
	SSEStart    SSEType = "start"
	SSEChunk    SSEType = "chunk"
	SSEComplete SSEType = "complete"
	SSEError    SSEType = "error"
)

// WorldEventType discriminates the sub-events carried on the world channel.
type WorldEventType string

const (
	WorldToolStart     WorldEventType = "tool-start"
	WorldToolProgress  WorldEventType = "tool-progress"
	WorldToolResult    WorldEventType = "tool-result"
	WorldToolError     WorldEventType = "tool-error"
	WorldResponseStart WorldEventType = "response-start"
	WorldResponseEnd   WorldEventType = "response-end"
	WorldIdle          WorldEventType = "idle"
)

// ToolDecision is the outcome a transport relays back for a tool-call approval.
type ToolDecision string

const (
	DecisionApprove ToolDecision = "approve"
	DecisionDeny    ToolDecision = "deny"
)

// ApprovalScope controls whether a tool approval is remembered for reuse.
type ApprovalScope string

const (
	ScopeOnce    ApprovalScope = "once"
	ScopeSession ApprovalScope = "session"
)

// MessagePayload is the payload carried on the "message" channel.
type MessagePayload struct {
	Content          string                     `json:"content"`
	Sender           string                     `json:"sender"`
	MessageID        string                     `json:"messageId"`
	Timestamp        time.Time                  `json:"timestamp"`
	ChatID           *string                    `json:"chatId"`
	ReplyToMessageID string                     `json:"replyToMessageId,omitempty"`
	Role             Role                       `json:"role,omitempty"`
	ToolCalls        []ToolCall                 `json:"tool_calls,omitempty"`
	ToolCallID       string                     `json:"tool_call_id,omitempty"`
	ToolCallStatus   map[string]*ToolCallStatus `json:"toolCallStatus,omitempty"`
}

// SSEPayload is the payload carried on the "sse" channel.
type SSEPayload struct {
	Type      SSEType `json:"type"`
	AgentName string  `json:"agentName"`
	Content   string  `json:"content,omitempty"`
	MessageID string  `json:"messageId,omitempty"`
	ChatID    *string `json:"chatId"`
}

// ToolExecutionInfo describes a tool invocation embedded in a world event.
type ToolExecutionInfo struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Error      string `json:"error,omitempty"`
}

// WorldPayload is the payload carried on the "world" channel.
type WorldPayload struct {
	Type              WorldEventType     `json:"type"`
	Source            string             `json:"source"`
	AgentName         string             `json:"agentName,omitempty"`
	ChatID            *string            `json:"chatId"`
	ToolExecution     *ToolExecutionInfo `json:"toolExecution,omitempty"`
	PendingOperations int                `json:"pendingOperations,omitempty"`
	ActivityID        int64              `json:"activityId,omitempty"`
	ActiveSources     []string           `json:"activeSources,omitempty"`
}

// SystemKind discriminates the sub-events carried on the "system" channel.
type SystemKind string

const (
	SystemHITLOptionRequest SystemKind = "hitl-option-request"
	SystemChatTitleUpdated  SystemKind = "chat-title-updated"
	SystemPassThrough       SystemKind = "pass-through"
	SystemSkillsChanged     SystemKind = "skills-changed"
)

// SystemPayload is the generic envelope for system events (HITL requests, chat titles).
type SystemPayload struct {
	Kind            SystemKind     `json:"kind"`
	RequestID       string         `json:"requestId,omitempty"`
	Title           string         `json:"title,omitempty"`
	Message         string         `json:"message,omitempty"`
	Options         []HITLOption   `json:"options,omitempty"`
	DefaultOptionID string         `json:"defaultOptionId,omitempty"`
	ChatID          *string        `json:"chatId"`
	ChatTitle       string         `json:"chatTitle,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// ToolChannelPayload is the internal tool-result payload relayed from a
// transport back into the pipeline, carrying an HITL/approval decision.
type ToolChannelPayload struct {
	ToolCallID       string         `json:"toolCallId"`
	Decision         ToolDecision   `json:"decision"`
	Scope            ApprovalScope  `json:"scope"`
	ToolName         string         `json:"toolName,omitempty"`
	ToolArgs         map[string]any `json:"toolArgs,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
}

// HITLOption is a single selectable option in an HITL request.
type HITLOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MessageDirection classifies a message event for persistence metadata.
type MessageDirection string

const (
	DirectionBroadcast MessageDirection = "broadcast"
	DirectionIncoming  MessageDirection = "incoming"
	DirectionOutgoing  MessageDirection = "outgoing"
)

// EventMeta carries the persistence metadata derived for a message event.
type EventMeta struct {
	RecipientAgentID  string           `json:"recipientAgentId,omitempty"`
	OwnerAgentIDs     []string         `json:"ownerAgentIds"`
	IsHumanMessage    bool             `json:"isHumanMessage"`
	IsCrossAgentMsg   bool             `json:"isCrossAgentMessage"`
	IsMemoryOnly      bool             `json:"isMemoryOnly"`
	IsReply           bool             `json:"isReply"`
	ThreadDepth       int              `json:"threadDepth"`
	ThreadRootID      string           `json:"threadRootId,omitempty"`
	HasToolCalls      bool             `json:"hasToolCalls"`
	ToolCallCount     int              `json:"toolCallCount"`
	MessageDirection  MessageDirection `json:"messageDirection"`
	DeliveredToAgents []string         `json:"deliveredToAgents"`
}

// StoredEventType discriminates events kept in the append-only event store.
type StoredEventType string

const (
	StoredMessage StoredEventType = "message"
	StoredSSE     StoredEventType = "sse"
	StoredTool    StoredEventType = "tool"
	StoredSystem  StoredEventType = "system"
	StoredCRUD    StoredEventType = "crud"
)

// StoredEvent is an append-only persisted record of an emitted event.
type StoredEvent struct {
	ID        string          `json:"id"`
	Type      StoredEventType `json:"type"`
	WorldID   string          `json:"worldId"`
	ChatID    *string         `json:"chatId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   any             `json:"payload"`
	Meta      *EventMeta      `json:"meta,omitempty"`
}

// CRUDOperation describes a world/agent/chat CRUD event persisted as StoredCRUD.
type CRUDOperation struct {
	Operation  string    `json:"operation"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	EntityData any       `json:"entityData,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
