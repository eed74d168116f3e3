// Package messageprep builds the ordered message list sent to the LLM for
// one agent turn: system prompt, filtered history, current message — with
// synthetic client-side tool protocol entries scrubbed out.
//
// Grounded on a precedent in internal/agent/runtime.go, which assembles the
// provider-bound message slice from session history plus the inbound
// message immediately before a ChatCompletion call.
package messageprep

import "github.com/haasonsaas/worldrt/pkg/models"

const (
	clientToolPrefix     = "client."
	approvalCallIDPrefix = "approval_"
	hitlCallIDPrefix     = "hitl_"
)

// Prepare returns the ordered list [system?, ...history filtered by chatID,
// current]. history must NOT already contain current — the pipeline's
// contract is "load history first, persist current last".
//
// When filterActive is true, history is restricted to entries whose ChatID
// equals chatFilter (see sameChatID): two nil ChatIDs match each other, and
// a nil ChatID never matches a non-nil one. When filterActive is false,
// history is not filtered by chat.
func Prepare(systemPrompt string, history []models.AgentMessage, current models.AgentMessage, chatFilter *string, filterActive bool) []models.AgentMessage {
	out := make([]models.AgentMessage, 0, len(history)+2)

	if systemPrompt != "" {
		out = append(out, models.AgentMessage{Role: models.RoleSystem, Content: systemPrompt})
	}

	for _, m := range history {
		if filterActive && !sameChatID(m.ChatID, chatFilter) {
			continue
		}
		if scrubbed, drop := scrubSynthetic(m); !drop {
			out = append(out, scrubbed)
		}
	}

	out = append(out, current)
	return out
}

func sameChatID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// scrubSynthetic drops client-side tool-protocol plumbing that must never
// reach the LLM: assistant calls to client.* functions (approval/HITL
// synthetic calls) and tool-result entries whose tool_call_id starts with
// the approval_ or hitl_ prefix.
func scrubSynthetic(m models.AgentMessage) (models.AgentMessage, bool) {
	if m.Role == models.RoleTool {
		if hasPrefix(m.ToolCallID, approvalCallIDPrefix) || hasPrefix(m.ToolCallID, hitlCallIDPrefix) {
			return m, true
		}
		return m, false
	}

	if len(m.ToolCalls) == 0 {
		return m, false
	}

	kept := make([]models.ToolCall, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		if !hasPrefix(tc.Function.Name, clientToolPrefix) {
			kept = append(kept, tc)
		}
	}
	if len(kept) == 0 {
		// Only synthetic calls present: drop the assistant message entirely,
		// even if it also carries narration content.
		return m, true
	}
	if len(kept) != len(m.ToolCalls) {
		m.ToolCalls = kept
	}
	return m, false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
