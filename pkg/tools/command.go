package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/petrelhq/petrel/pkg/config"
)

// CommandTool runs shell commands restricted to an allowlist. Every
// segment of a pipeline is checked, not just the first.
type CommandTool struct {
	workingDir      string
	allowedCommands []string
	timeout         time.Duration
}

func NewCommandTool(cfg *config.ToolConfig) *CommandTool {
	return &CommandTool{
		workingDir:      cfg.WorkingDir,
		allowedCommands: cfg.AllowedCommands,
		timeout:         time.Duration(cfg.Timeout) * time.Second,
	}
}

func (t *CommandTool) Name() string { return "command" }

func (t *CommandTool) Info() Info {
	return Info{
		Name:        "command",
		Description: fmt.Sprintf("Execute a shell command. Allowed commands: %s", strings.Join(t.allowedCommands, ", ")),
		Source:      "builtin",
		Parameters: []Parameter{
			{Name: "command", Type: "string", Description: "Shell command to execute (pipes and redirects are supported)", Required: true},
		},
	}
}

func (t *CommandTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return errorResult("%v", err), nil
	}

	if err := t.validate(command); err != nil {
		return errorResult("%v", err), nil
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workingDir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	metadata := map[string]any{
		"command":     command,
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			metadata["exit_code"] = exitErr.ExitCode()
		}
		result := errorResult("command failed: %v\n%s", err, string(output))
		result.Metadata = metadata
		return result, nil
	}

	return textResult(string(output), metadata), nil
}

// validate checks the base command of every pipeline segment against the
// allowlist. Command substitution is rejected outright since the
// substituted command never shows up as a segment.
func (t *CommandTool) validate(command string) error {
	if strings.Contains(command, "$(") || strings.Contains(command, "`") {
		return fmt.Errorf("command substitution is not allowed")
	}

	segments := strings.FieldsFunc(command, func(r rune) bool {
		return r == '|' || r == ';' || r == '&' || r == '\n'
	})

	for _, segment := range segments {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		base := fields[0]
		if strings.ContainsAny(base, "><") {
			continue
		}
		if !t.allowed(base) {
			return fmt.Errorf("command not allowed: %s (allowed: %s)", base, strings.Join(t.allowedCommands, ", "))
		}
	}
	return nil
}

func (t *CommandTool) allowed(base string) bool {
	for _, allowed := range t.allowedCommands {
		if base == allowed {
			return true
		}
	}
	return false
}

var _ Tool = (*CommandTool)(nil)
