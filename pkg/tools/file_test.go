package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
)

func newTestFileTool(t *testing.T, deniedPaths ...string) (*FileTool, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.ToolConfig{
		Type:        config.ToolTypeFile,
		WorkingDir:  dir,
		DeniedPaths: deniedPaths,
	}
	cfg.SetDefaults()

	tool, err := NewFileTool(cfg)
	require.NoError(t, err)
	return tool, dir
}

func TestFileToolReadWrite(t *testing.T) {
	tool, dir := newTestFileTool(t)

	result, err := tool.Execute(context.Background(), map[string]any{
		"operation": "write",
		"path":      "notes/hello.txt",
		"content":   "hello",
	})
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)

	data, err := os.ReadFile(filepath.Join(dir, "notes", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	result, err = tool.Execute(context.Background(), map[string]any{
		"operation": "read",
		"path":      "notes/hello.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
}

func TestFileToolList(t *testing.T) {
	tool, dir := newTestFileTool(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	result, err := tool.Execute(context.Background(), map[string]any{
		"operation": "list",
		"path":      ".",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "a.txt")
	assert.Contains(t, result.Content, "sub/")
}

func TestFileToolRejectsEscape(t *testing.T) {
	tool, _ := newTestFileTool(t)

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		result, err := tool.Execute(context.Background(), map[string]any{
			"operation": "read",
			"path":      path,
		})
		require.NoError(t, err)
		assert.True(t, result.IsError, "path %q should be rejected", path)
	}
}

func TestFileToolDeniedPaths(t *testing.T) {
	tool, _ := newTestFileTool(t, "secrets", ".env")

	result, err := tool.Execute(context.Background(), map[string]any{
		"operation": "write",
		"path":      "secrets/key.pem",
		"content":   "x",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not allowed")

	result, err = tool.Execute(context.Background(), map[string]any{
		"operation": "write",
		"path":      ".env",
		"content":   "x",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Writes outside the denied prefixes still work.
	result, err = tool.Execute(context.Background(), map[string]any{
		"operation": "write",
		"path":      "ok.txt",
		"content":   "x",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestFileToolUnknownOperation(t *testing.T) {
	tool, _ := newTestFileTool(t)

	result, err := tool.Execute(context.Background(), map[string]any{
		"operation": "delete",
		"path":      "x",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
