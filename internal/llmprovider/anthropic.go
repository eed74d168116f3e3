// Package llmprovider adapts concrete LLM SDKs to the internal/llm.ChatCompletion
// capability. Each adapter owns one provider's request/response conversion and
// streaming-event processing; callers select one per agent by Agent.Provider.
//
// Grounded on the teacher's internal/agent/providers/anthropic.go and
// internal/agent/providers/openai.go: a thin client wrapper, a
// messages-to-provider-format converter, and a stream processor draining
// provider events into a single chunk/result shape.
package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/worldrt/internal/llm"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// AnthropicConfig configures an AnthropicChatCompletion.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicChatCompletion adapts anthropic-sdk-go's streaming Messages API to
// the llm.ChatCompletion interface.
type AnthropicChatCompletion struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicChatCompletion validates config and builds the SDK client.
func NewAnthropicChatCompletion(config AnthropicConfig) (*AnthropicChatCompletion, error) {
	if config.APIKey == "" {
		return nil, errors.New("llmprovider: anthropic api key required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicChatCompletion{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
	}, nil
}

// Complete streams a message completion from Anthropic, invoking onChunk for
// each text delta and returning the assembled Result once the stream ends.
func (p *AnthropicChatCompletion) Complete(ctx context.Context, req llm.Request, onChunk func(llm.Chunk)) (llm.Result, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return llm.Result{}, fmt.Errorf("llmprovider: anthropic build params: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return llm.Result{}, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		result, streamErr := p.drainStream(stream, onChunk)
		if streamErr == nil {
			return result, nil
		}
		lastErr = streamErr
		if !isRetryableAnthropicError(streamErr) {
			break
		}
	}

	if onChunk != nil {
		onChunk(llm.Chunk{Error: lastErr, Done: true})
	}
	return llm.Result{}, fmt.Errorf("llmprovider: anthropic complete: %w", lastErr)
}

func (p *AnthropicChatCompletion) buildParams(req llm.Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, system, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// anthropicStream is the subset of ssestream.Stream's API the drain loop
// needs, narrowed so tests can supply a fake without constructing a real SSE
// body.
type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

func (p *AnthropicChatCompletion) drainStream(stream anthropicStream, onChunk func(llm.Chunk)) (llm.Result, error) {
	var content strings.Builder
	var toolCalls []models.ToolCall
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Type: "function", Function: models.ToolCallFunction{Name: toolUse.Name}}
				currentToolInput.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					content.WriteString(delta.Text)
					if onChunk != nil {
						onChunk(llm.Chunk{Text: delta.Text})
					}
				}
			case "input_json_delta":
				currentToolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Function.Arguments = currentToolInput.String()
				toolCalls = append(toolCalls, *currentToolCall)
				currentToolCall = nil
			}
		case "message_delta":
			if usage := event.AsMessageDelta().Usage; usage.OutputTokens > 0 {
				outputTokens = int(usage.OutputTokens)
			}
		case "error":
			return llm.Result{}, errors.New("anthropic stream error event")
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Result{}, err
	}

	if onChunk != nil {
		onChunk(llm.Chunk{Done: true})
	}
	return llm.Result{
		Content:      content.String(),
		ToolCalls:    toolCalls,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

// convertMessagesToAnthropic splits out system-role entries (Anthropic takes
// system as a top-level field, not a message) and translates the remainder
// to anthropic.MessageParam, folding tool results and tool calls into content
// blocks the way the SDK's helpers expect.
func convertMessagesToAnthropic(messages []models.AgentMessage) ([]anthropic.MessageParam, string, error) {
	var system []string
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg.Content)
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					return nil, "", fmt.Errorf("invalid tool call arguments for %s: %w", tc.Function.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, strings.Join(system, "\n\n"), nil
}

func convertToolsToAnthropic(tools []llm.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

func isRetryableAnthropicError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
