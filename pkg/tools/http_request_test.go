package tools

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
)

func newTestHTTPRequestTool(maxBytes int64) *HTTPRequestTool {
	cfg := &config.ToolConfig{Type: config.ToolTypeHTTPRequest, MaxResponseBytes: maxBytes}
	cfg.SetDefaults()
	return NewHTTPRequestTool(cfg)
}

func TestHTTPRequestToolGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "petrel-test", r.Header.Get("X-Custom"))
		w.Write([]byte("response body"))
	}))
	defer server.Close()

	tool := newTestHTTPRequestTool(0)
	result, err := tool.Execute(context.Background(), map[string]any{
		"url":     server.URL,
		"headers": map[string]any{"X-Custom": "petrel-test"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "response body", result.Content)
	assert.Equal(t, http.StatusOK, result.Metadata["status_code"])
}

func TestHTTPRequestToolPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tool := newTestHTTPRequestTool(0)
	result, err := tool.Execute(context.Background(), map[string]any{
		"url":    server.URL,
		"method": "post",
		"body":   `{"a":1}`,
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHTTPRequestToolCapsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	tool := newTestHTTPRequestTool(10)
	result, err := tool.Execute(context.Background(), map[string]any{"url": server.URL})
	require.NoError(t, err)
	assert.Len(t, result.Content, 10)
}

func TestHTTPRequestToolErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))
	defer server.Close()

	tool := newTestHTTPRequestTool(0)
	result, err := tool.Execute(context.Background(), map[string]any{"url": server.URL})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "404")
}

func TestHTTPRequestToolRejectsBadInput(t *testing.T) {
	tool := newTestHTTPRequestTool(0)

	result, err := tool.Execute(context.Background(), map[string]any{"url": "ftp://example.com"})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = tool.Execute(context.Background(), map[string]any{
		"url":    "http://example.com",
		"method": "TRACE",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
