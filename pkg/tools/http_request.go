package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/httpclient"
)

var allowedHTTPMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// HTTPRequestTool lets the model make HTTP calls. Response bodies are
// capped at the configured size.
type HTTPRequestTool struct {
	maxResponseBytes int64
	client           *httpclient.Client
}

func NewHTTPRequestTool(cfg *config.ToolConfig) *HTTPRequestTool {
	return &HTTPRequestTool{
		maxResponseBytes: cfg.MaxResponseBytes,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(2),
		),
	}
}

func (t *HTTPRequestTool) Name() string { return "http_request" }

func (t *HTTPRequestTool) Info() Info {
	return Info{
		Name:        "http_request",
		Description: "Make an HTTP request and return the response body",
		Source:      "builtin",
		Parameters: []Parameter{
			{Name: "url", Type: "string", Description: "Target URL", Required: true},
			{Name: "method", Type: "string", Description: "HTTP method, defaults to GET",
				Enum: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"}},
			{Name: "headers", Type: "object", Description: "Request headers"},
			{Name: "body", Type: "string", Description: "Request body"},
		},
	}
}

func (t *HTTPRequestTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	rawURL, err := stringArg(args, "url")
	if err != nil {
		return errorResult("%v", err), nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errorResult("invalid URL: %s", rawURL), nil
	}

	method := http.MethodGet
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if !allowedHTTPMethods[method] {
		return errorResult("method not allowed: %s", method), nil
	}

	var body io.Reader
	if b, ok := args["body"].(string); ok && b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return errorResult("failed to build request: %v", err), nil
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if resp == nil {
		return errorResult("request failed: %v", err), nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponseBytes))
	if err != nil {
		return errorResult("failed to read response: %v", err), nil
	}

	result := textResult(string(data), map[string]any{
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"url":          rawURL,
	})
	if resp.StatusCode >= 400 {
		result.IsError = true
		result.Content = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return result, nil
}

var _ Tool = (*HTTPRequestTool)(nil)
