package workflow

import "github.com/petrelhq/petrel/pkg/registry"

// Registry holds the configured workflows by name.
type Registry struct {
	*registry.BaseRegistry[*Workflow]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[*Workflow]()}
}
