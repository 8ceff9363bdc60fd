// Package tools provides the built-in tools agents can call and the
// registry that resolves them from config, including MCP tool servers.
package tools

import (
	"context"
	"fmt"

	"github.com/petrelhq/petrel/pkg/models"
)

// Tool is a callable capability exposed to a model.
type Tool interface {
	Name() string
	Info() Info
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Info describes a tool to the model.
type Info struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`

	// Source names where the tool comes from ("builtin" or an MCP
	// server name).
	Source string `json:"source,omitempty"`
}

// Parameter describes one input to a tool.
type Parameter struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Enum        []string       `json:"enum,omitempty"`
	Items       map[string]any `json:"items,omitempty"`
}

// Result is the outcome of a tool execution. Content is what the model
// sees; Metadata is for logging and events only.
type Result struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Schema renders the parameters as a JSON-schema object suitable for the
// model APIs.
func (i Info) Schema() map[string]any {
	properties := make(map[string]any, len(i.Parameters))
	var required []string

	for _, p := range i.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Definition converts the tool description to the model-facing form.
func (i Info) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        i.Name,
		Description: i.Description,
		Parameters:  i.Schema(),
	}
}

func textResult(content string, metadata map[string]any) Result {
	return Result{Content: content, Metadata: metadata}
}

func errorResult(format string, args ...any) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return v, nil
}
