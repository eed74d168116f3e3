package llmprovider

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/worldrt/internal/llm"
	"github.com/haasonsaas/worldrt/pkg/models"
)

func TestNewOpenAIChatCompletion(t *testing.T) {
	tests := []struct {
		name        string
		config      OpenAIConfig
		expectError bool
	}{
		{
			name:   "valid config",
			config: OpenAIConfig{APIKey: "test-key", DefaultModel: "gpt-4o"},
		},
		{
			name:        "missing api key",
			config:      OpenAIConfig{},
			expectError: true,
		},
		{
			name:   "defaults applied",
			config: OpenAIConfig{APIKey: "test-key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewOpenAIChatCompletion(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.defaultModel == "" {
				t.Fatal("expected a default model to be filled in")
			}
		})
	}
}

func TestConvertMessagesToOpenAI(t *testing.T) {
	messages := []models.AgentMessage{
		{Role: models.RoleSystem, Content: "be concise"},
		{Role: models.RoleUser, Content: "hello"},
		{
			Role:       models.RoleTool,
			Content:    "42",
			ToolCallID: "call_1",
		},
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Function: models.ToolCallFunction{Name: "lookup", Arguments: `{"q":"x"}`}},
			},
		},
	}

	converted := convertMessagesToOpenAI(messages)
	if len(converted) != len(messages) {
		t.Fatalf("expected %d messages, got %d", len(messages), len(converted))
	}
	if converted[2].ToolCallID != "call_1" {
		t.Fatalf("expected tool message to carry its ToolCallID, got %q", converted[2].ToolCallID)
	}
	if len(converted[3].ToolCalls) != 1 || converted[3].ToolCalls[0].Function.Name != "lookup" {
		t.Fatalf("expected assistant message to carry its tool call, got %+v", converted[3].ToolCalls)
	}
}

func TestConvertToolsToOpenAI(t *testing.T) {
	tools := []llm.ToolSpec{
		{Name: "lookup", Description: "look something up", Parameters: []byte(`{"type":"object","properties":{}}`)},
	}

	converted := convertToolsToOpenAI(tools)
	if len(converted) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(converted))
	}
	if converted[0].Function.Name != "lookup" {
		t.Fatalf("expected tool name lookup, got %q", converted[0].Function.Name)
	}
}

func TestConvertToolsToOpenAIMalformedSchemaFallsBackToEmptyObject(t *testing.T) {
	tools := []llm.ToolSpec{
		{Name: "lookup", Parameters: []byte(`not json`)},
	}

	converted := convertToolsToOpenAI(tools)
	if len(converted) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(converted))
	}
	schema, ok := converted[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("expected a fallback schema map, got %T", converted[0].Function.Parameters)
	}
	if schema["type"] != "object" {
		t.Fatalf("expected fallback schema type object, got %v", schema["type"])
	}
}

func TestFlattenToolCalls(t *testing.T) {
	byIndex := map[int]*models.ToolCall{
		0: {ID: "a"},
		1: {ID: "b"},
	}
	flattened := flattenToolCalls([]int{1, 0}, byIndex)
	if len(flattened) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(flattened))
	}
	if flattened[0].ID != "b" || flattened[1].ID != "a" {
		t.Fatalf("expected flatten to preserve order index, got %+v", flattened)
	}
}

func TestIsRetryableOpenAIError(t *testing.T) {
	if isRetryableOpenAIError(errors.New("plain error")) {
		t.Fatal("expected a non-APIError to be non-retryable")
	}
	if !isRetryableOpenAIError(&openai.APIError{HTTPStatusCode: 429}) {
		t.Fatal("expected 429 to be retryable")
	}
	if !isRetryableOpenAIError(&openai.APIError{HTTPStatusCode: 500}) {
		t.Fatal("expected 500 to be retryable")
	}
	if isRetryableOpenAIError(&openai.APIError{HTTPStatusCode: 400}) {
		t.Fatal("expected 400 to be non-retryable")
	}
}
