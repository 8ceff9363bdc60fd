package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
)

func newTestCommandTool(allowed ...string) *CommandTool {
	cfg := &config.ToolConfig{
		Type:            config.ToolTypeCommand,
		AllowedCommands: allowed,
	}
	cfg.SetDefaults()
	return NewCommandTool(cfg)
}

func TestCommandToolValidate(t *testing.T) {
	tool := newTestCommandTool("echo", "grep", "wc")

	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{"allowed", "echo hello", false},
		{"allowed pipeline", "echo hello | grep hello | wc -l", false},
		{"disallowed", "rm -rf /tmp/x", true},
		{"disallowed in pipeline", "echo hello | rm file", true},
		{"disallowed after semicolon", "echo hi; curl http://evil", true},
		{"disallowed after and", "echo hi && nc -l 8080", true},
		{"disallowed after newline", "echo hi\nrm -rf /tmp/x", true},
		{"dollar substitution", "echo $(rm -rf /tmp/x)", true},
		{"backtick substitution", "echo `rm -rf /tmp/x`", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.validate(tt.command)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommandToolExecute(t *testing.T) {
	tool := newTestCommandTool("echo")

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo hello world",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello world", strings.TrimSpace(result.Content))
}

func TestCommandToolExecuteDisallowed(t *testing.T) {
	tool := newTestCommandTool("echo")

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "cat /etc/passwd",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not allowed")
}

func TestCommandToolExecuteMissingArg(t *testing.T) {
	tool := newTestCommandTool("echo")

	result, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCommandToolExitCode(t *testing.T) {
	tool := newTestCommandTool("sh", "false")

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "false",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 1, result.Metadata["exit_code"])
}
