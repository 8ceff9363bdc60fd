// Package models implements the LLM provider layer. Providers speak the
// vendor HTTP APIs directly over pkg/httpclient; the agent loop only sees
// the Model interface.
package models

import (
	"context"

	"github.com/petrelhq/petrel/pkg/protocol"
)

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// OutputSchema constrains a response to a JSON schema (structured output).
type OutputSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

// Request is a single generation request.
type Request struct {
	Messages []*protocol.Message
	Tools    []ToolDefinition

	// Output, when set, constrains the response to a JSON schema.
	Output *OutputSchema
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is a completed generation.
type Response struct {
	Text      string
	ToolCalls []*protocol.ToolCall
	Usage     Usage
}

// ChunkType identifies a streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeDone     ChunkType = "done"
	ChunkTypeError    ChunkType = "error"
)

// StreamChunk is one unit of a streaming response. The producer closes the
// channel after sending a done or error chunk.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *protocol.ToolCall
	Usage    *Usage
	Err      error
}

// Model is an LLM provider instance bound to one model.
type Model interface {
	// Name returns the model identifier (e.g. "gpt-4o").
	Name() string

	// Provider returns the provider type (openai, anthropic, ollama).
	Provider() string

	// Generate performs a blocking completion.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateStream performs a streaming completion. The returned channel
	// is closed by the producer; on failure the final chunk carries the
	// error.
	GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error)
}
