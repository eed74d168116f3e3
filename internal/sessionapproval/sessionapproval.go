// Package sessionapproval implements the session-approval matcher: a
// backward scan of an agent's memory for a prior "approve for session"
// decision that authorizes re-executing a tool call without prompting
// again.
//
// Grounded on a precedent in internal/exec/safety.go, which keeps an
// allowlist of previously-approved commands and matches new requests
// against it before falling back to interactive confirmation.
package sessionapproval

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/haasonsaas/worldrt/pkg/models"
)

// innerApproval is the decoded approval payload nested inside a tool_result
// message's content, per the wire shape:
// {__type: "tool_result", content: JSON(innerApproval)}.
type innerApproval struct {
	Decision         models.ToolDecision `json:"decision"`
	Scope            models.ApprovalScope `json:"scope"`
	ToolName         string              `json:"toolName"`
	ToolArgs         map[string]any      `json:"toolArgs,omitempty"`
	WorkingDirectory string              `json:"workingDirectory,omitempty"`
}

type toolResultEnvelope struct {
	Type    string `json:"__type"`
	Content string `json:"content"`
}

var legacyApprovalPattern = regexp.MustCompile(`(?i)approve_session\s+for\s+(\S+)`)

// Request describes the tool invocation a caller wants authorized.
type Request struct {
	ToolName         string
	ToolArgs         map[string]any
	WorkingDirectory string
}

// Match scans memory backwards for a session approval authorizing req.
// Denials and one-time approvals are never cached and never match.
func Match(memory []models.AgentMessage, req Request) bool {
	for i := len(memory) - 1; i >= 0; i-- {
		m := memory[i]
		if m.Role != models.RoleTool {
			continue
		}
		if approval, ok := decodeApproval(m.Content); ok {
			if matches(approval, req) {
				return true
			}
			continue
		}
		if matchesLegacyText(m.Content, req.ToolName) {
			return true
		}
	}
	return false
}

func decodeApproval(content string) (innerApproval, bool) {
	var envelope toolResultEnvelope
	if err := json.Unmarshal([]byte(content), &envelope); err != nil || envelope.Type != "tool_result" {
		return innerApproval{}, false
	}
	var inner innerApproval
	if err := json.Unmarshal([]byte(envelope.Content), &inner); err != nil {
		return innerApproval{}, false
	}
	return inner, true
}

func matches(approval innerApproval, req Request) bool {
	if approval.Decision != models.DecisionApprove || approval.Scope != models.ScopeSession {
		return false
	}
	if !strings.EqualFold(approval.ToolName, req.ToolName) {
		return false
	}
	if approval.WorkingDirectory != "" && approval.WorkingDirectory != req.WorkingDirectory {
		return false
	}
	if approval.ToolArgs != nil && !deepEqual(approval.ToolArgs, req.ToolArgs) {
		return false
	}
	return true
}

func matchesLegacyText(content, toolName string) bool {
	match := legacyApprovalPattern.FindStringSubmatch(content)
	if match == nil {
		return false
	}
	return strings.EqualFold(match[1], toolName)
}

// deepEqual compares two decoded-JSON values for structural equality:
// object key order is irrelevant, array order matters, primitives compare
// strictly. Numbers decoded from JSON are float64 on both sides so this is
// a plain reflect.DeepEqual once both sides round-trip through
// encoding/json, which is how callers obtain ToolArgs.
func deepEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalize(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalize(vv)
		}
		return out
	default:
		return val
	}
}
