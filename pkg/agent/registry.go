package agent

import (
	"context"

	"github.com/petrelhq/petrel/pkg/registry"
)

// Runner is anything that can execute a run: single agents and teams.
type Runner interface {
	Name() string
	Description() string
	Run(ctx context.Context, input *RunInput) (*RunOutput, error)
	RunStream(ctx context.Context, input *RunInput) (<-chan Event, error)
}

// Registry holds the configured agents and teams by name.
type Registry struct {
	*registry.BaseRegistry[Runner]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Runner]()}
}

var (
	_ Runner = (*Agent)(nil)
	_ Runner = (*Team)(nil)
)
