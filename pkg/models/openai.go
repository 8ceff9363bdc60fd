package models

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/httpclient"
	"github.com/petrelhq/petrel/pkg/observability"
	"github.com/petrelhq/petrel/pkg/protocol"
)

// OpenAI implements Model against the chat completions API. It also serves
// OpenAI-compatible servers via BaseURL.
type OpenAI struct {
	cfg    *config.ModelConfig
	client *httpclient.Client
}

type openAIRequest struct {
	Model               string                `json:"model"`
	Messages            []openAIMessage       `json:"messages"`
	MaxTokens           *int                  `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int                  `json:"max_completion_tokens,omitempty"`
	Temperature         *float64              `json:"temperature,omitempty"`
	Stream              bool                  `json:"stream"`
	StreamOptions       *openAIStreamOptions  `json:"stream_options,omitempty"`
	Tools               []openAITool          `json:"tools,omitempty"`
	ToolChoice          string                `json:"tool_choice,omitempty"`
	ResponseFormat      *openAIResponseFormat `json:"response_format,omitempty"`
	ReasoningEffort     string                `json:"reasoning_effort,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage  `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content,omitempty"`
			ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
			Reasoning string           `json:"reasoning,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
	Error *openAIError `json:"error,omitempty"`
}

// NewOpenAI builds an OpenAI model from config.
func NewOpenAI(cfg *config.ModelConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OpenAI{
		cfg:    cfg,
		client: newHTTPClient(cfg, httpclient.ParseOpenAIHeaders),
	}, nil
}

func (m *OpenAI) Name() string     { return m.cfg.Model }
func (m *OpenAI) Provider() string { return "openai" }

func (m *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	tracer := observability.Tracer("petrel.models")
	ctx, span := tracer.Start(ctx, observability.SpanModelRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModelName, m.cfg.Model),
			attribute.String(observability.AttrModelProvider, m.Provider()),
		),
	)
	defer span.End()

	request := m.buildRequest(req, false)

	response, err := m.post(ctx, request)
	duration := time.Since(start)

	if err == nil && response.Error != nil {
		err = fmt.Errorf("openai API error: %s", response.Error.Message)
	}
	if err == nil && len(response.Choices) == 0 {
		err = fmt.Errorf("no response choices returned")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordModelCall(ctx, m.cfg.Model, duration, 0, 0, err)
		return nil, err
	}

	choice := response.Choices[0]

	text := ""
	if str, ok := choice.Message.Content.(string); ok {
		text = str
	}

	toolCalls, err := parseOpenAIToolCalls(choice.Message.ToolCalls)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int(observability.AttrModelTokensInput, response.Usage.PromptTokens),
		attribute.Int(observability.AttrModelTokensOutput, response.Usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "")
	observability.GetGlobalMetrics().RecordModelCall(ctx, m.cfg.Model, duration,
		response.Usage.PromptTokens, response.Usage.CompletionTokens, nil)

	return &Response{
		Text:      text,
		ToolCalls: toolCalls,
		Usage: Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
			TotalTokens:  response.Usage.TotalTokens,
		},
	}, nil
}

func (m *OpenAI) GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	request := m.buildRequest(req, true)

	out := make(chan StreamChunk, 100)
	go func() {
		defer close(out)
		if err := m.stream(ctx, request, out); err != nil {
			out <- StreamChunk{Type: ChunkTypeError, Err: err}
		}
	}()

	return out, nil
}

func (m *OpenAI) buildRequest(req *Request, stream bool) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		// Tool results become individual "tool" role messages.
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				messages = append(messages, openAIMessage{
					Role:       "tool",
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		out := openAIMessage{Role: string(msg.Role)}

		var parts []openAIContentPart
		for _, part := range msg.Parts {
			switch part.Type {
			case protocol.PartTypeText:
				parts = append(parts, openAIContentPart{Type: "text", Text: part.Text})
			case protocol.PartTypeImageURL:
				parts = append(parts, openAIContentPart{
					Type:     "image_url",
					ImageURL: &openAIImageURL{URL: part.URL},
				})
			case protocol.PartTypeImageBase64:
				url := fmt.Sprintf("data:%s;base64,%s", part.MediaType,
					base64.StdEncoding.EncodeToString(part.Data))
				parts = append(parts, openAIContentPart{
					Type:     "image_url",
					ImageURL: &openAIImageURL{URL: url},
				})
			}
		}

		// Plain string for text-only messages, array form otherwise.
		if len(parts) == 1 && parts[0].Type == "text" {
			out.Content = parts[0].Text
		} else if len(parts) > 0 {
			out.Content = parts
		} else {
			out.Content = ""
		}

		for _, tc := range msg.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Args)
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(argsJSON)
			out.ToolCalls = append(out.ToolCalls, call)
		}

		messages = append(messages, out)
	}

	request := openAIRequest{
		Model:    m.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}
	if stream {
		request.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	// Reasoning models take max_completion_tokens and fixed temperature.
	if isReasoningModel(m.cfg.Model) {
		if m.cfg.MaxTokens > 0 {
			tokens := m.cfg.MaxTokens
			request.MaxCompletionTokens = &tokens
		}
		if m.cfg.Thinking != nil && m.cfg.Thinking.Enabled {
			request.ReasoningEffort = reasoningEffort(m.cfg.Thinking.BudgetTokens)
		}
	} else {
		if m.cfg.MaxTokens > 0 {
			tokens := m.cfg.MaxTokens
			request.MaxTokens = &tokens
		}
		request.Temperature = m.cfg.Temperature
	}

	for _, tool := range req.Tools {
		request.Tools = append(request.Tools, openAITool{
			Type:     "function",
			Function: openAIToolFunction(tool),
		})
	}
	if len(request.Tools) > 0 {
		request.ToolChoice = "auto"
	}

	if req.Output != nil {
		request.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   req.Output.Name,
				Schema: req.Output.Schema,
				Strict: req.Output.Strict,
			},
		}
	}

	return request
}

func (m *OpenAI) newRequest(ctx context.Context, request openAIRequest) (*http.Request, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	return req, nil
}

func (m *OpenAI) post(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	req, err := m.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil || resp == nil {
		return nil, httpError(resp, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (m *OpenAI) stream(ctx context.Context, request openAIRequest, out chan<- StreamChunk) error {
	req, err := m.newRequest(ctx, request)
	if err != nil {
		return err
	}

	resp, err := m.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil || resp == nil {
		return httpError(resp, err)
	}

	reader := bufio.NewReader(resp.Body)
	accumulator := newToolCallAccumulator()
	usage := Usage{}

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var chunk openAIStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}

		if chunk.Error != nil {
			return fmt.Errorf("openai API error: %s", chunk.Error.Message)
		}
		if chunk.Usage != nil {
			usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]

		if choice.Delta.Reasoning != "" {
			out <- StreamChunk{Type: ChunkTypeThinking, Text: choice.Delta.Reasoning}
		}
		if choice.Delta.Content != "" {
			out <- StreamChunk{Type: ChunkTypeText, Text: choice.Delta.Content}
		}
		for _, delta := range choice.Delta.ToolCalls {
			accumulator.add(delta)
		}

		if choice.FinishReason == "stop" || choice.FinishReason == "tool_calls" {
			calls, err := accumulator.finish()
			if err != nil {
				return err
			}
			for _, tc := range calls {
				out <- StreamChunk{Type: ChunkTypeToolCall, ToolCall: tc}
			}
		}
	}

	out <- StreamChunk{Type: ChunkTypeDone, Usage: &usage}
	return nil
}

// toolCallAccumulator stitches streamed tool-call argument fragments back
// together. A fragment with an ID starts a new call; fragments without one
// extend the latest call's arguments.
type toolCallAccumulator struct {
	calls []openAIToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{}
}

func (a *toolCallAccumulator) add(delta openAIToolCall) {
	if delta.ID != "" {
		a.calls = append(a.calls, delta)
		return
	}
	if n := len(a.calls); n > 0 {
		a.calls[n-1].Function.Arguments += delta.Function.Arguments
	}
}

func (a *toolCallAccumulator) finish() ([]*protocol.ToolCall, error) {
	calls := a.calls
	a.calls = nil
	return parseOpenAIToolCalls(calls)
}

func parseOpenAIToolCalls(calls []openAIToolCall) ([]*protocol.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	result := make([]*protocol.ToolCall, len(calls))
	for i, tc := range calls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		result[i] = &protocol.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}
	}
	return result, nil
}

// isReasoningModel reports whether the model takes max_completion_tokens
// and reasoning_effort instead of the standard sampling knobs.
func isReasoningModel(name string) bool {
	lower := strings.ToLower(name)
	for _, exact := range []string{"o1", "o3", "o4", "gpt-5"} {
		if lower == exact {
			return true
		}
	}
	for _, prefix := range []string{"o1-", "o3-", "o4-", "gpt-5-"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func reasoningEffort(budgetTokens int) string {
	switch {
	case budgetTokens <= 0:
		return "low"
	case budgetTokens <= 512:
		return "minimal"
	case budgetTokens <= 1024:
		return "low"
	case budgetTokens <= 8192:
		return "medium"
	default:
		return "high"
	}
}

// httpError extracts the best available error from a failed response.
func httpError(resp *http.Response, err error) error {
	if resp == nil {
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		return fmt.Errorf("HTTP request failed: no response received")
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr == nil && len(body) > 0 {
		var errorResp struct {
			Error openAIError `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil && errorResp.Error.Message != "" {
			return fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s)",
				resp.StatusCode, errorResp.Error.Message, errorResp.Error.Type, errorResp.Error.Code)
		}
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("API request failed with status %d: %v", resp.StatusCode, err)
}

var _ Model = (*OpenAI)(nil)
