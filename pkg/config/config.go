// Package config defines the YAML configuration model and its loader.
//
// Every named component (models, tools, stores, knowledge bases, agents,
// workflows) is declared in its own top-level section; agents reference
// components by name. Unknown references fail at Validate time so wiring
// errors never survive into a running process.
package config

import (
	"fmt"
)

// Config is the root configuration document.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging,omitempty" json:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	Server    ServerConfig    `yaml:"server,omitempty" json:"server,omitempty"`

	Models    map[string]*ModelConfig     `yaml:"models,omitempty" json:"models,omitempty"`
	Tools     map[string]*ToolConfig      `yaml:"tools,omitempty" json:"tools,omitempty"`
	Storage   map[string]*StorageConfig   `yaml:"storage,omitempty" json:"storage,omitempty"`
	Knowledge map[string]*KnowledgeConfig `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`
	Agents    map[string]*AgentConfig     `yaml:"agents,omitempty" json:"agents,omitempty"`
	Teams     map[string]*TeamConfig      `yaml:"teams,omitempty" json:"teams,omitempty"`
	Workflows map[string]*WorkflowConfig  `yaml:"workflows,omitempty" json:"workflows,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// Format is text or json.
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=text,enum=json,default=text"`

	// File is the log destination path (empty = stderr).
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	// Enabled turns on OpenTelemetry tracing and metrics.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Exporter is stdout or otlp.
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty" jsonschema:"enum=stdout,enum=otlp,default=stdout"`

	// Endpoint is the OTLP collector address (host:port).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// ServiceName identifies this process in traces.
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"default=0.0.0.0"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=7777,minimum=1,maximum=65535"`

	// ReadTimeout and WriteTimeout are in seconds. WriteTimeout of zero
	// disables the limit, which streaming responses require.
	ReadTimeout  int `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout int `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// SetDefaults fills zero values across the whole document.
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "stdout"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "petrel"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 7777
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30
	}

	for _, m := range c.Models {
		m.SetDefaults()
	}
	for _, tc := range c.Tools {
		tc.SetDefaults()
	}
	for _, s := range c.Storage {
		s.SetDefaults()
	}
	for _, k := range c.Knowledge {
		k.SetDefaults()
	}
	for _, a := range c.Agents {
		a.SetDefaults()
	}
	for _, t := range c.Teams {
		t.SetDefaults()
	}
	for _, w := range c.Workflows {
		w.SetDefaults()
	}
}

// Validate checks every section and cross-references between them.
func (c *Config) Validate() error {
	for name, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model %q: %w", name, err)
		}
	}
	for name, tc := range c.Tools {
		if err := tc.Validate(); err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
	}
	for name, s := range c.Storage {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("storage %q: %w", name, err)
		}
	}
	for name, k := range c.Knowledge {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("knowledge %q: %w", name, err)
		}
	}

	for name, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
		if _, ok := c.Models[a.Model]; !ok {
			return fmt.Errorf("agent %q references unknown model %q", name, a.Model)
		}
		for _, toolName := range a.Tools {
			if _, ok := c.Tools[toolName]; !ok {
				return fmt.Errorf("agent %q references unknown tool %q", name, toolName)
			}
		}
		if a.Storage != "" {
			if _, ok := c.Storage[a.Storage]; !ok {
				return fmt.Errorf("agent %q references unknown storage %q", name, a.Storage)
			}
		}
		if a.Knowledge != "" {
			if _, ok := c.Knowledge[a.Knowledge]; !ok {
				return fmt.Errorf("agent %q references unknown knowledge base %q", name, a.Knowledge)
			}
		}
		if a.Memory != nil && a.Memory.LongTerm.Enabled && a.Storage == "" {
			return fmt.Errorf("agent %q enables long-term memory but has no storage", name)
		}
	}

	for name, t := range c.Teams {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("team %q: %w", name, err)
		}
		if _, ok := c.Models[t.Model]; !ok {
			return fmt.Errorf("team %q references unknown model %q", name, t.Model)
		}
		for _, member := range t.Members {
			if _, ok := c.Agents[member]; !ok {
				return fmt.Errorf("team %q references unknown agent %q", name, member)
			}
		}
	}

	for name, w := range c.Workflows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("workflow %q: %w", name, err)
		}
		for _, step := range w.Steps {
			if _, ok := c.Agents[step.Agent]; !ok {
				return fmt.Errorf("workflow %q references unknown agent %q", name, step.Agent)
			}
		}
	}

	return nil
}
