package storage

import (
	"fmt"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/registry"
)

// Registry holds named storage services built from config.
type Registry struct {
	*registry.BaseRegistry[Service]
}

func NewRegistry(configs map[string]*config.StorageConfig) (*Registry, error) {
	r := &Registry{BaseRegistry: registry.NewBaseRegistry[Service]()}

	for name, cfg := range configs {
		service, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("storage %q: %w", name, err)
		}
		if err := r.Register(name, service); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Close shuts down every registered service.
func (r *Registry) Close() error {
	var firstErr error
	for _, service := range r.List() {
		if err := service.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// New builds a storage service from its config.
func New(cfg *config.StorageConfig) (Service, error) {
	switch cfg.Driver {
	case config.StorageDriverMemory:
		return NewMemoryService(), nil
	case config.StorageDriverSQLite, config.StorageDriverPostgres, config.StorageDriverMySQL:
		return NewSQLService(cfg)
	case config.StorageDriverJSON:
		return NewJSONService(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
