// Package llm defines the ChatCompletion capability the agent pipeline
// consumes. The interface is provider-agnostic; concrete backends (see
// internal/llmprovider) adapt a real SDK to it.
//
// Grounded on a precedent in internal/agent.LLMProvider (the same
// request/streaming-chunk/result shape, generalized from its
// Anthropic/OpenAI-specific CompletionRequest to a single
// {messages, tools, model, temperature, maxTokens, stream, onChunk} call).
package llm

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/worldrt/pkg/models"
)

// ToolSpec describes one tool the model may call, in the shape every
// provider's function-calling API expects: a name, a description, and a
// JSON Schema for its parameters.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is one ChatCompletion call. Messages is the exact ordered list
// messageprep produced; callers must not reorder or dedupe it.
type Request struct {
	Messages    []models.AgentMessage
	Tools       []ToolSpec
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// Chunk is one piece of a streamed response, delivered via the onChunk
// callback passed to Complete. Done marks the final chunk; the assembled
// response is not carried on any chunk but returned by Complete as a Result.
type Chunk struct {
	Text  string
	Done  bool
	Error error
}

// Result is the final outcome of a Complete call: the assembled assistant
// content plus any tool calls the model requested, in the OpenAI-compatible
// shape {id, type: "function", function: {name, arguments}}.
type Result struct {
	Content      string
	ToolCalls    []models.ToolCall
	InputTokens  int
	OutputTokens int
}

// ChatCompletion is the capability the pipeline invokes for every agent
// turn. Implementations must be safe for concurrent use: distinct agents
// in the same world call Complete concurrently.
type ChatCompletion interface {
	Complete(ctx context.Context, req Request, onChunk func(Chunk)) (Result, error)
}

// Static is a deterministic ChatCompletion used in tests: it streams a
// fixed response's content one rune at a time and returns the configured
// result. Grounded on a precedent in provider test doubles, which play back
// a scripted CompletionChunk sequence instead of calling a real API.
type Static struct {
	Result Result
	Err    error
}

// Complete streams Result.Content rune-by-rune, then returns Result (or
// Err, if set).
func (s Static) Complete(ctx context.Context, req Request, onChunk func(Chunk)) (Result, error) {
	if s.Err != nil {
		if onChunk != nil {
			onChunk(Chunk{Error: s.Err, Done: true})
		}
		return Result{}, s.Err
	}

	if onChunk != nil {
		for _, r := range s.Result.Content {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
			onChunk(Chunk{Text: string(r)})
		}
		onChunk(Chunk{Done: true})
	}

	return s.Result, nil
}
