package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/httpclient"
)

const (
	mcpProtocolVersion = "2024-11-05"
	clientVersion      = "0.3.0"
)

// MCPToolset connects to an MCP server and exposes its tools. The
// connection is established lazily on the first Discover call.
//
// stdio servers are driven through mcp-go; streamable-http servers go
// through the shared retrying HTTP client.
type MCPToolset struct {
	name string
	cfg  *config.MCPConfig

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *httpclient.Client
	tools      []Tool
	connected  bool
	include    map[string]bool

	// sessMu has its own lock because rpc runs both under mu (during
	// connect) and outside it (during tool execution).
	sessMu    sync.Mutex
	sessionID string
}

// NewMCPToolset builds a toolset from config. name is the config key the
// toolset was registered under.
func NewMCPToolset(name string, cfg *config.MCPConfig) *MCPToolset {
	var include map[string]bool
	if len(cfg.Include) > 0 {
		include = make(map[string]bool, len(cfg.Include))
		for _, n := range cfg.Include {
			include[n] = true
		}
	}
	return &MCPToolset{name: name, cfg: cfg, include: include}
}

func (t *MCPToolset) Name() string { return t.name }

// Discover connects if needed and returns the server's tools.
func (t *MCPToolset) Discover(ctx context.Context) ([]Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		var err error
		if t.cfg.Transport == config.MCPTransportStdio {
			err = t.connectStdio(ctx)
		} else {
			err = t.connectHTTP(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", t.name, err)
		}
	}

	return t.tools, nil
}

// Close shuts down the server connection.
func (t *MCPToolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.stdio != nil {
		err = t.stdio.Close()
		t.stdio = nil
	}
	t.httpClient = nil
	t.tools = nil
	t.connected = false
	return err
}

func (t *MCPToolset) connectStdio(ctx context.Context) error {
	env := make([]string, 0, len(t.cfg.Env))
	for k, v := range t.cfg.Env {
		env = append(env, k+"="+config.ExpandEnv(v))
	}

	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, env, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "petrel", Version: clientVersion}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []Tool
	for _, remote := range listResp.Tools {
		if t.include != nil && !t.include[remote.Name] {
			continue
		}
		tools = append(tools, &mcpTool{
			toolset:     t,
			name:        remote.Name,
			description: remote.Description,
			schema:      schemaToMap(remote.InputSchema),
		})
	}

	t.stdio = mcpClient
	t.tools = tools
	t.connected = true

	slog.Info("connected to MCP server",
		"name", t.name, "transport", "stdio", "command", t.cfg.Command, "tools", len(tools))
	return nil
}

func (t *MCPToolset) connectHTTP(ctx context.Context) error {
	t.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(3),
	)

	initResp, err := t.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo":      map[string]any{"name": "petrel", "version": clientVersion},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("initialize error: %s", initResp.Error.Message)
	}

	listResp, err := t.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("tools/list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected tools/list result")
	}
	rawTools, _ := resultMap["tools"].([]any)

	var tools []Tool
	for _, raw := range rawTools {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if t.include != nil && !t.include[name] {
			continue
		}
		description, _ := entry["description"].(string)
		schema, _ := entry["inputSchema"].(map[string]any)
		tools = append(tools, &mcpTool{
			toolset:     t,
			name:        name,
			description: description,
			schema:      schema,
		})
	}

	t.tools = tools
	t.connected = true

	slog.Info("connected to MCP server",
		"name", t.name, "transport", string(t.cfg.Transport), "url", t.cfg.URL, "tools", len(tools))
	return nil
}

type mcpRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type mcpRPCResponse struct {
	Result any `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (t *MCPToolset) rpc(ctx context.Context, method string, params any) (*mcpRPCResponse, error) {
	body, err := json.Marshal(mcpRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.sessMu.Lock()
	if t.sessionID != "" {
		req.Header.Set("mcp-session-id", t.sessionID)
	}
	t.sessMu.Unlock()

	resp, err := t.httpClient.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("mcp-session-id"); sid != "" {
		t.sessMu.Lock()
		t.sessionID = sid
		t.sessMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readRPCFromSSE(resp.Body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var rpcResp mcpRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &rpcResp, nil
}

// readRPCFromSSE extracts the first complete JSON-RPC message from an
// event stream response.
func readRPCFromSSE(body io.Reader) (*mcpRPCResponse, error) {
	reader := bufio.NewReader(body)
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read stream: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		case trimmed == "" && data.Len() > 0:
			var rpcResp mcpRPCResponse
			if parseErr := json.Unmarshal([]byte(data.String()), &rpcResp); parseErr == nil {
				return &rpcResp, nil
			}
			data.Reset()
		}

		if err == io.EOF {
			break
		}
	}

	if data.Len() > 0 {
		var rpcResp mcpRPCResponse
		if parseErr := json.Unmarshal([]byte(data.String()), &rpcResp); parseErr == nil {
			return &rpcResp, nil
		}
	}
	return nil, fmt.Errorf("stream ended without a complete message")
}

// mcpTool adapts one remote tool to the Tool interface.
type mcpTool struct {
	toolset     *MCPToolset
	name        string
	description string
	schema      map[string]any
}

func (w *mcpTool) Name() string { return w.name }

func (w *mcpTool) Info() Info {
	return Info{
		Name:        w.name,
		Description: w.description,
		Source:      w.toolset.name,
		Parameters:  schemaToParameters(w.schema),
	}
}

func (w *mcpTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	if w.toolset.cfg.Transport == config.MCPTransportStdio {
		return w.executeStdio(ctx, args)
	}
	return w.executeHTTP(ctx, args)
}

func (w *mcpTool) executeStdio(ctx context.Context, args map[string]any) (Result, error) {
	w.toolset.mu.Lock()
	mcpClient := w.toolset.stdio
	w.toolset.mu.Unlock()
	if mcpClient == nil {
		return Result{}, fmt.Errorf("mcp server %s is not connected", w.toolset.name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("mcp call failed: %w", err)
	}

	var texts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	return Result{Content: strings.Join(texts, "\n"), IsError: resp.IsError}, nil
}

func (w *mcpTool) executeHTTP(ctx context.Context, args map[string]any) (Result, error) {
	resp, err := w.toolset.rpc(ctx, "tools/call", map[string]any{
		"name":      w.name,
		"arguments": args,
	})
	if err != nil {
		return Result{}, fmt.Errorf("mcp call failed: %w", err)
	}
	if resp.Error != nil {
		return errorResult("%s", resp.Error.Message), nil
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return textResult(fmt.Sprint(resp.Result), nil), nil
	}

	isError, _ := resultMap["isError"].(bool)
	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok && cm["type"] == "text" {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}
	return Result{Content: strings.Join(texts, "\n"), IsError: isError}, nil
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// schemaToParameters flattens a JSON-schema object into the parameter
// list form used by Info.
func schemaToParameters(schema map[string]any) []Parameter {
	properties, _ := schema["properties"].(map[string]any)
	if len(properties) == 0 {
		return nil
	}

	required := make(map[string]bool)
	if reqs, ok := schema["required"].([]any); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]Parameter, 0, len(properties))
	for name, raw := range properties {
		prop, _ := raw.(map[string]any)
		param := Parameter{Name: name, Required: required[name]}
		if typ, ok := prop["type"].(string); ok {
			param.Type = typ
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		}
		if items, ok := prop["items"].(map[string]any); ok {
			param.Items = items
		}
		if enum, ok := prop["enum"].([]any); ok {
			for _, e := range enum {
				if s, ok := e.(string); ok {
					param.Enum = append(param.Enum, s)
				}
			}
		}
		params = append(params, param)
	}
	return params
}

var _ Tool = (*mcpTool)(nil)
