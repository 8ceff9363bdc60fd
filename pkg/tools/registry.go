package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/models"
	"github.com/petrelhq/petrel/pkg/registry"
)

// Registry holds the tools available to agents. Built-in tools register
// eagerly; MCP servers connect on Discover.
type Registry struct {
	*registry.BaseRegistry[Tool]
	toolsets []*MCPToolset
}

// NewRegistry builds a registry from the tools config section. Each
// entry is registered under its config key; MCP entries contribute one
// tool per server tool once Discover runs.
func NewRegistry(configs map[string]*config.ToolConfig) (*Registry, error) {
	r := &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}

	for name, cfg := range configs {
		switch cfg.Type {
		case config.ToolTypeHTTPRequest:
			if err := r.Register(name, NewHTTPRequestTool(cfg)); err != nil {
				return nil, err
			}
		case config.ToolTypeFile:
			tool, err := NewFileTool(cfg)
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", name, err)
			}
			if err := r.Register(name, tool); err != nil {
				return nil, err
			}
		case config.ToolTypeCommand:
			if err := r.Register(name, NewCommandTool(cfg)); err != nil {
				return nil, err
			}
		case config.ToolTypeCalculator:
			if err := r.Register(name, NewCalculatorTool()); err != nil {
				return nil, err
			}
		case config.ToolTypeMCP:
			r.toolsets = append(r.toolsets, NewMCPToolset(name, cfg.MCP))
		default:
			return nil, fmt.Errorf("tool %q: unknown type %q", name, cfg.Type)
		}
	}

	return r, nil
}

// Discover connects all MCP toolsets and registers their tools. Safe to
// call more than once.
func (r *Registry) Discover(ctx context.Context) error {
	for _, toolset := range r.toolsets {
		tools, err := toolset.Discover(ctx)
		if err != nil {
			return err
		}
		for _, tool := range tools {
			if _, exists := r.Get(tool.Name()); exists {
				continue
			}
			if err := r.Register(tool.Name(), tool); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close shuts down MCP connections.
func (r *Registry) Close() error {
	var errs []error
	for _, toolset := range r.toolsets {
		if err := toolset.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Definitions resolves tool names into model-facing definitions.
func (r *Registry) Definitions(names []string) ([]models.ToolDefinition, error) {
	definitions := make([]models.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("tool %q not found", name)
		}
		definitions = append(definitions, tool.Info().Definition())
	}
	return definitions, nil
}
