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

// Ollama implements Model against a local Ollama server's chat API.
type Ollama struct {
	cfg    *config.ModelConfig
	client *httpclient.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllama builds an Ollama model from config. No API key is required.
func NewOllama(cfg *config.ModelConfig) (*Ollama, error) {
	return &Ollama{
		cfg:    cfg,
		client: newHTTPClient(cfg, nil),
	}, nil
}

func (m *Ollama) Name() string     { return m.cfg.Model }
func (m *Ollama) Provider() string { return "ollama" }

func (m *Ollama) Generate(ctx context.Context, req *Request) (*Response, error) {
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

	httpReq, err := m.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(httpReq)
	if resp != nil {
		defer resp.Body.Close()
	}
	duration := time.Since(start)
	if err != nil || resp == nil {
		err = httpError(resp, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordModelCall(ctx, m.cfg.Model, duration, 0, 0, err)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response ollamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if response.Error != "" {
		err := fmt.Errorf("ollama API error: %s", response.Error)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordModelCall(ctx, m.cfg.Model, duration, 0, 0, err)
		return nil, err
	}

	toolCalls := ollamaToolCalls(response.Message.ToolCalls)

	span.SetAttributes(
		attribute.Int(observability.AttrModelTokensInput, response.PromptEvalCount),
		attribute.Int(observability.AttrModelTokensOutput, response.EvalCount),
	)
	span.SetStatus(codes.Ok, "")
	observability.GetGlobalMetrics().RecordModelCall(ctx, m.cfg.Model, duration,
		response.PromptEvalCount, response.EvalCount, nil)

	return &Response{
		Text:      response.Message.Content,
		ToolCalls: toolCalls,
		Usage: Usage{
			InputTokens:  response.PromptEvalCount,
			OutputTokens: response.EvalCount,
			TotalTokens:  response.PromptEvalCount + response.EvalCount,
		},
	}, nil
}

func (m *Ollama) GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
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

func (m *Ollama) buildRequest(req *Request, stream bool) ollamaRequest {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				messages = append(messages, ollamaMessage{
					Role:    "tool",
					Content: tr.Content,
				})
			}
			continue
		}

		om := ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Text(),
		}
		for _, part := range msg.Parts {
			if part.Type == protocol.PartTypeImageBase64 {
				om.Images = append(om.Images, base64.StdEncoding.EncodeToString(part.Data))
			}
		}
		for _, tc := range msg.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Args
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		messages = append(messages, om)
	}

	request := ollamaRequest{
		Model:    m.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}

	if m.cfg.Temperature != nil || m.cfg.MaxTokens > 0 {
		request.Options = &ollamaOptions{
			Temperature: m.cfg.Temperature,
			NumPredict:  m.cfg.MaxTokens,
		}
	}

	for _, tool := range req.Tools {
		request.Tools = append(request.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	if req.Output != nil {
		if schema, err := json.Marshal(req.Output.Schema); err == nil {
			request.Format = schema
		}
	}

	return request
}

func (m *Ollama) newRequest(ctx context.Context, request ollamaRequest) (*http.Request, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

// stream reads newline-delimited JSON objects until a final object with
// done=true carrying the token counts.
func (m *Ollama) stream(ctx context.Context, request ollamaRequest, out chan<- StreamChunk) error {
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

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama API error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			out <- StreamChunk{Type: ChunkTypeText, Text: chunk.Message.Content}
		}
		for _, tc := range ollamaToolCalls(chunk.Message.ToolCalls) {
			out <- StreamChunk{Type: ChunkTypeToolCall, ToolCall: tc}
		}

		if chunk.Done {
			out <- StreamChunk{Type: ChunkTypeDone, Usage: &Usage{
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
				TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
			}}
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}

	out <- StreamChunk{Type: ChunkTypeDone, Usage: &Usage{}}
	return nil
}

// ollamaToolCalls assigns synthetic IDs since the API does not return any.
func ollamaToolCalls(calls []ollamaToolCall) []*protocol.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]*protocol.ToolCall, 0, len(calls))
	for i, tc := range calls {
		out = append(out, &protocol.ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return out
}

var _ Model = (*Ollama)(nil)
