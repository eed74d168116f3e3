// Package models provides the shared domain types for the world runtime:
// agents, messages, tool calls, chats, and the events the runtime emits.
package models

import "time"

// Role identifies the author of an AgentMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an LLM's request to execute a tool, in the OpenAI-compatible shape.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the function payload of a ToolCall.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded arguments
}

// ToolCallStatus tracks the completion state of an in-flight tool call,
// keyed by ToolCall.ID in AgentMessage.ToolCallStatus.
type ToolCallStatus struct {
	Complete bool `json:"complete"`
	Result   any  `json:"result,omitempty"`
}

// AgentMessage is one entry in an agent's append-only memory.
type AgentMessage struct {
	Role             Role                      `json:"role"`
	Content          string                    `json:"content"`
	Sender           string                    `json:"sender,omitempty"`
	ChatID           *string                   `json:"chatId,omitempty"`
	CreatedAt        time.Time                 `json:"createdAt"`
	MessageID        string                    `json:"messageId,omitempty"`
	ReplyToMessageID string                    `json:"replyToMessageId,omitempty"`
	ToolCalls        []ToolCall                `json:"tool_calls,omitempty"`
	ToolCallID       string                    `json:"tool_call_id,omitempty"`
	ToolCallStatus   map[string]*ToolCallStatus `json:"toolCallStatus,omitempty"`
}

// Clone returns a deep-enough copy of the message for safe storage in memory
// slices (ToolCalls slice and ToolCallStatus map are copied).
func (m AgentMessage) Clone() AgentMessage {
	clone := m
	if m.ChatID != nil {
		id := *m.ChatID
		clone.ChatID = &id
	}
	if m.ToolCalls != nil {
		clone.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.ToolCallStatus != nil {
		clone.ToolCallStatus = make(map[string]*ToolCallStatus, len(m.ToolCallStatus))
		for k, v := range m.ToolCallStatus {
			if v == nil {
				clone.ToolCallStatus[k] = nil
				continue
			}
			cp := *v
			clone.ToolCallStatus[k] = &cp
		}
	}
	return clone
}

// Agent is an LLM-backed participant in a world.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Status       string `json:"status,omitempty"`

	LLMCallCount int `json:"llmCallCount"`

	Memory []AgentMessage `json:"-"`

	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// Chat is an ordered conversation within a world.
type Chat struct {
	ID           string    `json:"id"`
	WorldID      string    `json:"worldId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// ReusableTitleDefault is the sentinel "New Chat" title used to decide
// whether a chat may be reused instead of creating a new one.
const ReusableTitleDefault = "New Chat"

// IsReusable reports whether this chat satisfies the reuse contract:
// name equals reusableTitle, messageCount is zero, and age is within maxAge.
func (c Chat) IsReusable(reusableTitle string, maxAge time.Duration, now time.Time) bool {
	if c.Name != reusableTitle {
		return false
	}
	if c.MessageCount != 0 {
		return false
	}
	return now.Sub(c.CreatedAt) <= maxAge
}
