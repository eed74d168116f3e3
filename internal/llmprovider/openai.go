package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/worldrt/internal/llm"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// OpenAIConfig configures an OpenAIChatCompletion.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIChatCompletion adapts go-openai's streaming chat completion API to
// the llm.ChatCompletion interface.
type OpenAIChatCompletion struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenAIChatCompletion validates config and builds the SDK client.
func NewOpenAIChatCompletion(config OpenAIConfig) (*OpenAIChatCompletion, error) {
	if config.APIKey == "" {
		return nil, errors.New("llmprovider: openai api key required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4o
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIChatCompletion{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
	}, nil
}

// Complete streams a chat completion from OpenAI, invoking onChunk for each
// text delta and returning the assembled Result once the stream ends.
func (p *OpenAIChatCompletion) Complete(ctx context.Context, req llm.Request, onChunk func(llm.Chunk)) (llm.Result, error) {
	chatReq := p.buildRequest(req)

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return llm.Result{}, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		if onChunk != nil {
			onChunk(llm.Chunk{Error: lastErr, Done: true})
		}
		return llm.Result{}, fmt.Errorf("llmprovider: openai create stream: %w", lastErr)
	}
	defer stream.Close()

	return p.drainStream(ctx, stream, onChunk)
}

func (p *OpenAIChatCompletion) buildRequest(req llm.Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessagesToOpenAI(req.Messages),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}
	return chatReq
}

func (p *OpenAIChatCompletion) drainStream(ctx context.Context, stream *openai.ChatCompletionStream, onChunk func(llm.Chunk)) (llm.Result, error) {
	var content strings.Builder
	toolCalls := make(map[int]*models.ToolCall)
	var order []int

	for {
		select {
		case <-ctx.Done():
			return llm.Result{}, ctx.Err()
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if onChunk != nil {
					onChunk(llm.Chunk{Done: true})
				}
				return llm.Result{Content: content.String(), ToolCalls: flattenToolCalls(order, toolCalls)}, nil
			}
			if onChunk != nil {
				onChunk(llm.Chunk{Error: err, Done: true})
			}
			return llm.Result{}, err
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onChunk != nil {
				onChunk(llm.Chunk{Text: delta.Content})
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if _, ok := toolCalls[index]; !ok {
				toolCalls[index] = &models.ToolCall{Type: "function"}
				order = append(order, index)
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Function.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Function.Arguments += tc.Function.Arguments
			}
		}
	}
}

func flattenToolCalls(order []int, byIndex map[int]*models.ToolCall) []models.ToolCall {
	result := make([]models.ToolCall, 0, len(order))
	for _, idx := range order {
		result = append(result, *byIndex[idx])
	}
	return result
}

func convertMessagesToOpenAI(messages []models.AgentMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == models.RoleTool {
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		result = append(result, oaiMsg)
	}
	return result
}

func convertToolsToOpenAI(tools []llm.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(t.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
