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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/httpclient"
	"github.com/petrelhq/petrel/pkg/observability"
	"github.com/petrelhq/petrel/pkg/protocol"
)

const anthropicVersion = "2023-06-01"

// Anthropic implements Model against the messages API.
type Anthropic struct {
	cfg    *config.ModelConfig
	client *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *anthropicImage `json:"source,omitempty"`
}

type anthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
	Error        *anthropicError    `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// NewAnthropic builds an Anthropic model from config.
func NewAnthropic(cfg *config.ModelConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for anthropic")
	}
	return &Anthropic{
		cfg:    cfg,
		client: newHTTPClient(cfg, httpclient.ParseAnthropicHeaders),
	}, nil
}

func (m *Anthropic) Name() string     { return m.cfg.Model }
func (m *Anthropic) Provider() string { return "anthropic" }

func (m *Anthropic) Generate(ctx context.Context, req *Request) (*Response, error) {
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
		err = fmt.Errorf("anthropic API error: %s", response.Error.Message)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordModelCall(ctx, m.cfg.Model, duration, 0, 0, err)
		return nil, err
	}

	var text string
	var toolCalls []*protocol.ToolCall
	for _, content := range response.Content {
		switch content.Type {
		case "text":
			text += content.Text
		case "tool_use":
			var args map[string]any
			if content.Input != nil {
				args = *content.Input
			}
			toolCalls = append(toolCalls, &protocol.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: args,
			})
		}
	}

	span.SetAttributes(
		attribute.Int(observability.AttrModelTokensInput, response.Usage.InputTokens),
		attribute.Int(observability.AttrModelTokensOutput, response.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	observability.GetGlobalMetrics().RecordModelCall(ctx, m.cfg.Model, duration,
		response.Usage.InputTokens, response.Usage.OutputTokens, nil)

	return &Response{
		Text:      text,
		ToolCalls: toolCalls,
		Usage: Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
			TotalTokens:  response.Usage.InputTokens + response.Usage.OutputTokens,
		},
	}, nil
}

func (m *Anthropic) GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
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

// buildRequest maps protocol messages to the messages API. System messages
// are hoisted into the system field; tool results become tool_result
// content blocks on user messages.
func (m *Anthropic) buildRequest(req *Request, stream bool) anthropicRequest {
	var system string
	var messages []anthropicMessage

	for _, msg := range req.Messages {
		if msg.Role == protocol.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text()
			continue
		}

		if len(msg.ToolResults) > 0 {
			blocks := make([]anthropicContent, 0, len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropicContent{
					Type:      "tool_result",
					ToolUseID: tr.ToolCallID,
					Content:   tr.Content,
					IsError:   tr.IsError,
				})
			}
			messages = append(messages, anthropicMessage{Role: "user", Content: blocks})
			continue
		}

		role := "user"
		if msg.Role == protocol.RoleAssistant {
			role = "assistant"
		}

		var blocks []anthropicContent
		for _, part := range msg.Parts {
			switch part.Type {
			case protocol.PartTypeText:
				if part.Text != "" {
					blocks = append(blocks, anthropicContent{Type: "text", Text: part.Text})
				}
			case protocol.PartTypeImageURL:
				blocks = append(blocks, anthropicContent{
					Type:   "image",
					Source: &anthropicImage{Type: "url", URL: part.URL},
				})
			case protocol.PartTypeImageBase64:
				blocks = append(blocks, anthropicContent{
					Type: "image",
					Source: &anthropicImage{
						Type:      "base64",
						MediaType: part.MediaType,
						Data:      base64.StdEncoding.EncodeToString(part.Data),
					},
				})
			}
		}

		for _, tc := range msg.ToolCalls {
			args := tc.Args
			blocks = append(blocks, anthropicContent{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: &args,
			})
		}

		if len(blocks) == 0 {
			continue
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}

	// Structured output has no response_format equivalent here; constrain
	// via the system prompt.
	if req.Output != nil {
		schemaJSON, _ := json.Marshal(req.Output.Schema)
		if system != "" {
			system += "\n\n"
		}
		system += "Respond only with a JSON object matching this schema:\n" + string(schemaJSON)
	}

	request := anthropicRequest{
		Model:       m.cfg.Model,
		Messages:    messages,
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
		Stream:      stream,
		System:      system,
	}

	for _, tool := range req.Tools {
		request.Tools = append(request.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	if m.cfg.Thinking != nil && m.cfg.Thinking.Enabled {
		budget := m.cfg.Thinking.BudgetTokens
		if budget <= 0 {
			budget = 1024
		}
		request.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		// Extended thinking requires temperature 1 (the API default).
		request.Temperature = nil
	}

	return request
}

func (m *Anthropic) newRequest(ctx context.Context, request anthropicRequest) (*http.Request, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", m.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	return req, nil
}

func (m *Anthropic) post(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
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

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (m *Anthropic) stream(ctx context.Context, request anthropicRequest, out chan<- StreamChunk) error {
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
	usage := Usage{}

	// Tool-use blocks stream their input as partial JSON keyed by block
	// index.
	type pendingTool struct {
		id   string
		name string
		json string
	}
	pending := make(map[int]*pendingTool)

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

		var event anthropicStreamEvent
		if err := json.Unmarshal(line[6:], &event); err != nil {
			continue
		}

		switch event.Type {
		case "error":
			if event.Error != nil {
				return fmt.Errorf("anthropic API error: %s", event.Error.Message)
			}

		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				pending[event.Index] = &pendingTool{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				out <- StreamChunk{Type: ChunkTypeText, Text: event.Delta.Text}
			case "thinking_delta":
				out <- StreamChunk{Type: ChunkTypeThinking, Text: event.Delta.Thinking}
			case "input_json_delta":
				if tool, ok := pending[event.Index]; ok {
					tool.json += event.Delta.PartialJSON
				}
			}

		case "content_block_stop":
			tool, ok := pending[event.Index]
			if !ok {
				continue
			}
			delete(pending, event.Index)

			var args map[string]any
			if tool.json != "" {
				if err := json.Unmarshal([]byte(tool.json), &args); err != nil {
					return fmt.Errorf("failed to parse tool arguments for %s: %w", tool.name, err)
				}
			}
			out <- StreamChunk{Type: ChunkTypeToolCall, ToolCall: &protocol.ToolCall{
				ID:   tool.id,
				Name: tool.name,
				Args: args,
			}}

		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			out <- StreamChunk{Type: ChunkTypeDone, Usage: &usage}
			return nil
		}
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	out <- StreamChunk{Type: ChunkTypeDone, Usage: &usage}
	return nil
}

var _ Model = (*Anthropic)(nil)
