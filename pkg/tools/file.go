package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/petrelhq/petrel/pkg/config"
)

// FileTool reads, writes, and lists files under a working directory.
// Paths are resolved against WorkingDir and must stay inside it; writes
// additionally honor the denied path prefixes.
type FileTool struct {
	workingDir  string
	deniedPaths []string
}

func NewFileTool(cfg *config.ToolConfig) (*FileTool, error) {
	abs, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("invalid working_dir %q: %w", cfg.WorkingDir, err)
	}
	return &FileTool{
		workingDir:  abs,
		deniedPaths: cfg.DeniedPaths,
	}, nil
}

func (t *FileTool) Name() string { return "file" }

func (t *FileTool) Info() Info {
	return Info{
		Name:        "file",
		Description: "Read, write, or list files in the working directory",
		Source:      "builtin",
		Parameters: []Parameter{
			{Name: "operation", Type: "string", Description: "What to do", Required: true,
				Enum: []string{"read", "write", "list"}},
			{Name: "path", Type: "string", Description: "File or directory path, relative to the working directory", Required: true},
			{Name: "content", Type: "string", Description: "Content to write (write only)"},
		},
	}
}

func (t *FileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	operation, err := stringArg(args, "operation")
	if err != nil {
		return errorResult("%v", err), nil
	}
	path, err := stringArg(args, "path")
	if err != nil {
		return errorResult("%v", err), nil
	}

	resolved, err := t.resolve(path)
	if err != nil {
		return errorResult("%v", err), nil
	}

	switch operation {
	case "read":
		return t.read(resolved, path)
	case "write":
		content, _ := args["content"].(string)
		return t.write(resolved, path, content)
	case "list":
		return t.list(resolved, path)
	default:
		return errorResult("unknown operation %q", operation), nil
	}
}

// resolve joins path with the working directory and rejects escapes.
func (t *FileTool) resolve(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(t.workingDir, resolved)
	}
	resolved = filepath.Clean(resolved)

	if resolved != t.workingDir && !strings.HasPrefix(resolved, t.workingDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the working directory", path)
	}
	return resolved, nil
}

func (t *FileTool) denied(resolved string) bool {
	rel, err := filepath.Rel(t.workingDir, resolved)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, prefix := range t.deniedPaths {
		prefix = strings.TrimSuffix(filepath.ToSlash(prefix), "/")
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}
	return false
}

func (t *FileTool) read(resolved, path string) (Result, error) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		return errorResult("failed to read %s: %v", path, err), nil
	}
	return textResult(string(data), map[string]any{"path": path, "bytes": len(data)}), nil
}

func (t *FileTool) write(resolved, path, content string) (Result, error) {
	if t.denied(resolved) {
		return errorResult("writing to %s is not allowed", path), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errorResult("failed to create directory for %s: %v", path, err), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return errorResult("failed to write %s: %v", path, err), nil
	}
	return textResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		map[string]any{"path": path, "bytes": len(content)}), nil
}

func (t *FileTool) list(resolved, path string) (Result, error) {
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return errorResult("failed to list %s: %v", path, err), nil
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			sb.WriteString(entry.Name() + "/\n")
		} else {
			sb.WriteString(entry.Name() + "\n")
		}
	}
	return textResult(sb.String(), map[string]any{"path": path, "entries": len(entries)}), nil
}

var _ Tool = (*FileTool)(nil)
