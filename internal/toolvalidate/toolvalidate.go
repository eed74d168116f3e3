// Package toolvalidate validates and coerces LLM-issued tool calls before
// execution: splits malformed calls into synthetic error results,
// normalizes known tool aliases, and coerces arguments against a tool's
// JSON Schema.
//
// Grounded on a precedent in pkg/pluginsdk/validation.go, which compiles and
// caches santhosh-tekuri/jsonschema schemas to validate plugin-supplied
// config payloads before they reach plugin code.
package toolvalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// Schema is a tool's parameter schema, decoded from the tool's advertised
// JSON Schema document (the same document a ChatCompletion provider is
// given for function-calling).
type Schema struct {
	Raw []byte // original JSON Schema document, compiled lazily and cached
}

// Publisher emits a tool-error world event. Publish failures never
// propagate: Validate recovers a panic raised by PublishToolError and logs
// it.
type Publisher interface {
	PublishToolError(toolCallID, toolName, errMsg string, chatID *string)
}

// BusPublisher adapts a worldbus.Bus to the Publisher interface.
type BusPublisher struct {
	Bus *worldbus.Bus
}

func (p BusPublisher) PublishToolError(toolCallID, toolName, errMsg string, chatID *string) {
	p.Bus.EmitWorld(context.Background(), chatID, models.WorldPayload{
		Type:   models.WorldToolError,
		Source: "validator",
		ToolExecution: &models.ToolExecutionInfo{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Error:      errMsg,
		},
	})
}

var schemaCache sync.Map

func compile(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// aliasMap maps tool name -> {alias key -> canonical key}. When both the
// canonical and alias key are present in the call's arguments, the
// canonical key wins.
var aliasMap = map[string]map[string]string{
	"list_files": {"directory": "path"},
	"grep":       {"directory": "directoryPath"},
	"create_agent": {
		"auto-reply":  "autoReply",
		"next agent":  "nextAgent",
	},
}

// Result is the outcome of validating one raw tool call.
type Result struct {
	Valid       []models.ToolCall
	ToolResults []models.AgentMessage // synthetic tool-role results for invalid calls
}

// Validate splits raw into valid calls and synthetic error results for
// malformed calls, applies alias normalization, and coerces arguments
// against schemas (keyed by tool name; a missing schema skips coercion).
func Validate(raw []models.ToolCall, schemas map[string]Schema, pub Publisher, chatID *string, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}
	var out Result

	for i, call := range raw {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			id := call.ID
			if id == "" {
				id = fmt.Sprintf("tc-%d", i)
			}
			out.ToolResults = append(out.ToolResults, models.AgentMessage{
				Role:       models.RoleTool,
				ToolCallID: id,
				Content:    "Malformed tool call: empty or missing tool name",
			})
			safePublish(pub, id, "", "empty tool name from LLM", chatID, logger)
			continue
		}

		call.Function.Arguments = normalizeAliases(name, call.Function.Arguments)
		if schema, ok := schemas[name]; ok {
			coerced, err := coerce(schema, call.Function.Arguments)
			if err != nil {
				logger.Warn("tool argument coercion failed", "tool", name, "error", err)
			} else {
				call.Function.Arguments = coerced
			}
		}
		out.Valid = append(out.Valid, call)
	}
	return out
}

func safePublish(pub Publisher, toolCallID, toolName, errMsg string, chatID *string, logger *slog.Logger) {
	if pub == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("tool-error publish failed", "recover", r)
		}
	}()
	pub.PublishToolError(toolCallID, toolName, errMsg, chatID)
}

func normalizeAliases(toolName, argsJSON string) string {
	aliases, ok := aliasMap[toolName]
	if !ok || argsJSON == "" {
		return argsJSON
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return argsJSON
	}
	changed := false
	for alias, canonical := range aliases {
		aliasVal, hasAlias := args[alias]
		_, hasCanonical := args[canonical]
		if hasAlias && !hasCanonical {
			args[canonical] = aliasVal
			changed = true
		}
		if hasAlias {
			delete(args, alias)
			changed = true
		}
	}
	if !changed {
		return argsJSON
	}
	out, err := json.Marshal(args)
	if err != nil {
		return argsJSON
	}
	return string(out)
}

// coerce applies the argument-coercion rules using the tool's raw JSON Schema
// document (decoded for type inspection, then re-validated via the
// compiled schema as a structural sanity check).
func coerce(schema Schema, argsJSON string) (string, error) {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("decode args: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(schema.Raw, &doc); err != nil {
		return "", fmt.Errorf("decode schema: %w", err)
	}
	props, _ := doc["properties"].(map[string]any)

	for key, val := range args {
		propSchema, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		switch {
		case val == nil:
			delete(args, key)
		default:
			args[key] = coerceValue(propSchema, val)
		}
	}
	// Drop any key whose coercion produced an explicit removal sentinel
	// (empty/null enum values are omitted rather than sent as literal nulls).
	for key := range args {
		if args[key] == nil {
			delete(args, key)
		}
	}

	out, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode coerced args: %w", err)
	}

	if compiled, err := compile(schema.Raw); err == nil {
		var decoded any
		if err := json.Unmarshal(out, &decoded); err == nil {
			_ = compiled.Validate(decoded) // best-effort; coercion already applied, validation failure is non-fatal here
		}
	}

	return string(out), nil
}

func coerceValue(propSchema map[string]any, val any) any {
	typ, _ := propSchema["type"].(string)

	if enumRaw, ok := propSchema["enum"].([]any); ok {
		s, isStr := val.(string)
		if isStr && s == "" {
			return nil
		}
		if isStr {
			for _, e := range enumRaw {
				if es, ok := e.(string); ok && strings.EqualFold(es, s) {
					return es
				}
			}
		}
	}

	switch typ {
	case "number", "integer":
		if s, ok := val.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return []any{val}
		}
	}
	return val
}
