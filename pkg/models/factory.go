package models

import (
	"fmt"
	"net/http"
	"time"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/httpclient"
	"github.com/petrelhq/petrel/pkg/registry"
)

// Registry holds named Model instances built from config.
type Registry struct {
	*registry.BaseRegistry[Model]
}

// NewRegistry builds a registry from the models config section.
func NewRegistry(configs map[string]*config.ModelConfig) (*Registry, error) {
	r := &Registry{BaseRegistry: registry.NewBaseRegistry[Model]()}

	for name, cfg := range configs {
		model, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		if err := r.Register(name, model); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// New builds a Model from its config.
func New(cfg *config.ModelConfig) (Model, error) {
	switch cfg.Provider {
	case config.ModelProviderOpenAI:
		return NewOpenAI(cfg)
	case config.ModelProviderAnthropic:
		return NewAnthropic(cfg)
	case config.ModelProviderOllama:
		return NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

func newHTTPClient(cfg *config.ModelConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay) * time.Second),
	}
	if parser != nil {
		opts = append(opts, httpclient.WithHeaderParser(parser))
	}
	return httpclient.New(opts...)
}
