package models

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/protocol"
)

func testModelConfig(provider config.ModelProvider, baseURL string) *config.ModelConfig {
	return &config.ModelConfig{
		Provider:  provider,
		Model:     "test-model",
		APIKey:    "test-key",
		BaseURL:   baseURL,
		MaxTokens: 1024,
		Timeout:   10,
	}
}

func collectChunks(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestOpenAIGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "hello", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {"role": "assistant", "content": "hi there"},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	model, err := NewOpenAI(testModelConfig(config.ModelProviderOpenAI, server.URL))
	require.NoError(t, err)

	resp, err := model.Generate(context.Background(), &Request{
		Messages: []*protocol.Message{
			protocol.NewSystemMessage("be helpful"),
			protocol.NewUserMessage("hello"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAIGenerateToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "get_weather", req.Tools[0].Function.Name)
		assert.Equal(t, "auto", req.ToolChoice)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "get_weather", "arguments": "{\"city\": \"Oslo\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 10, "total_tokens": 30}
		}`))
	}))
	defer server.Close()

	model, err := NewOpenAI(testModelConfig(config.ModelProviderOpenAI, server.URL))
	require.NoError(t, err)

	resp, err := model.Generate(context.Background(), &Request{
		Messages: []*protocol.Message{protocol.NewUserMessage("weather in Oslo?")},
		Tools: []ToolDefinition{{
			Name:        "get_weather",
			Description: "Look up the weather",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.Equal(t, "Oslo", resp.ToolCalls[0].Args["city"])
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid key", "type": "auth_error", "code": "401"}}`))
	}))
	defer server.Close()

	model, err := NewOpenAI(testModelConfig(config.ModelProviderOpenAI, server.URL))
	require.NoError(t, err)

	_, err = model.Generate(context.Background(), &Request{
		Messages: []*protocol.Message{protocol.NewUserMessage("hello")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestOpenAIGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.NotNil(t, req.StreamOptions)
		assert.True(t, req.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
				"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	model, err := NewOpenAI(testModelConfig(config.ModelProviderOpenAI, server.URL))
	require.NoError(t, err)

	ch, err := model.GenerateStream(context.Background(), &Request{
		Messages: []*protocol.Message{protocol.NewUserMessage("hello")},
	})
	require.NoError(t, err)

	chunks := collectChunks(t, ch)
	require.Len(t, chunks, 3)
	assert.Equal(t, ChunkTypeText, chunks[0].Type)
	assert.Equal(t, "Hel", chunks[0].Text)
	assert.Equal(t, "lo", chunks[1].Text)
	assert.Equal(t, ChunkTypeDone, chunks[2].Type)
	require.NotNil(t, chunks[2].Usage)
	assert.Equal(t, 7, chunks[2].Usage.TotalTokens)
}

func TestOpenAIGenerateStreamToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"search\",\"arguments\":\"{\\\"q\\\":\"}}]}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"function\":{\"arguments\":\"\\\"go\\\"}\"}}]}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	model, err := NewOpenAI(testModelConfig(config.ModelProviderOpenAI, server.URL))
	require.NoError(t, err)

	ch, err := model.GenerateStream(context.Background(), &Request{
		Messages: []*protocol.Message{protocol.NewUserMessage("search for go")},
	})
	require.NoError(t, err)

	chunks := collectChunks(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, ChunkTypeToolCall, chunks[0].Type)
	require.NotNil(t, chunks[0].ToolCall)
	assert.Equal(t, "search", chunks[0].ToolCall.Name)
	assert.Equal(t, "go", chunks[0].ToolCall.Args["q"])
	assert.Equal(t, ChunkTypeDone, chunks[1].Type)
}

func TestOpenAIBuildRequestReasoningModel(t *testing.T) {
	cfg := testModelConfig(config.ModelProviderOpenAI, "http://localhost")
	cfg.Model = "o3-mini"
	cfg.Thinking = &config.ThinkingConfig{Enabled: true, BudgetTokens: 4096}

	model, err := NewOpenAI(cfg)
	require.NoError(t, err)

	req := model.buildRequest(&Request{
		Messages: []*protocol.Message{protocol.NewUserMessage("hello")},
	}, false)

	assert.Nil(t, req.MaxTokens)
	require.NotNil(t, req.MaxCompletionTokens)
	assert.Equal(t, 1024, *req.MaxCompletionTokens)
	assert.Equal(t, "medium", req.ReasoningEffort)
	assert.Nil(t, req.Temperature)
}

func TestIsReasoningModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"o1", true},
		{"o3-mini", true},
		{"o4-mini", true},
		{"gpt-5", true},
		{"gpt-5-nano", true},
		{"gpt-4o", false},
		{"gpt-4o-mini", false},
		{"gpt-4.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, isReasoningModel(tt.model))
		})
	}
}

func TestToolCallAccumulatorResets(t *testing.T) {
	acc := newToolCallAccumulator()

	call := openAIToolCall{ID: "call_1", Type: "function"}
	call.Function.Name = "search"
	call.Function.Arguments = `{"q":"go"}`
	acc.add(call)

	calls, err := acc.finish()
	require.NoError(t, err)
	require.Len(t, calls, 1)

	// A second finish on the same accumulator must not re-emit.
	calls, err = acc.finish()
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestNewRegistry(t *testing.T) {
	configs := map[string]*config.ModelConfig{
		"main":  {Provider: config.ModelProviderOpenAI, Model: "gpt-4o", APIKey: "k", BaseURL: "http://localhost"},
		"local": {Provider: config.ModelProviderOllama, Model: "llama3", BaseURL: "http://localhost:11434"},
	}

	r, err := NewRegistry(configs)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count())

	model, ok := r.Get("main")
	require.True(t, ok)
	assert.Equal(t, "openai", model.Provider())
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(&config.ModelConfig{Provider: "mystery", Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model provider")
}
