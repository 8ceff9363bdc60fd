package config

import "fmt"

// AgentConfig configures a single agent: model + tools + instructions plus
// the storage, memory and knowledge attached to it.
type AgentConfig struct {
	// Name defaults to the config map key.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Description is shown in the API and used by teams when routing.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Model references a models section entry.
	Model string `yaml:"model" json:"model"`

	// Instructions form the base system prompt.
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`

	// Tools reference tools section entries.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Storage references a storage section entry. Without it the agent is
	// stateless across runs.
	Storage string `yaml:"storage,omitempty" json:"storage,omitempty"`

	// Memory configures working and long-term memory.
	Memory *MemoryConfig `yaml:"memory,omitempty" json:"memory,omitempty"`

	// Knowledge references a knowledge section entry.
	Knowledge string `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`

	// MaxIterations bounds the tool-calling loop.
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" jsonschema:"default=10,minimum=1"`

	// NumHistoryRuns is how many previous runs are replayed into context.
	NumHistoryRuns int `yaml:"num_history_runs,omitempty" json:"num_history_runs,omitempty" jsonschema:"default=3"`

	// Markdown asks the model to format responses as markdown.
	Markdown bool `yaml:"markdown,omitempty" json:"markdown,omitempty"`
}

func (c *AgentConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.NumHistoryRuns == 0 {
		c.NumHistoryRuns = 3
	}
	if c.Memory != nil {
		c.Memory.SetDefaults()
	}
}

func (c *AgentConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Memory != nil {
		if err := c.Memory.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TeamMode selects how a team coordinates its members.
type TeamMode string

const (
	// TeamModeRoute forwards the whole request to one member.
	TeamModeRoute TeamMode = "route"

	// TeamModeCoordinate lets the leader delegate subtasks to members via
	// tool calls and synthesize their answers.
	TeamModeCoordinate TeamMode = "coordinate"
)

// TeamConfig configures a multi-agent team.
type TeamConfig struct {
	Name        string   `yaml:"name,omitempty" json:"name,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        TeamMode `yaml:"mode,omitempty" json:"mode,omitempty" jsonschema:"enum=route,enum=coordinate,default=coordinate"`

	// Model drives the leader.
	Model string `yaml:"model" json:"model"`

	// Instructions for the leader, prepended to the mode prompt.
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`

	// Members reference agents section entries.
	Members []string `yaml:"members" json:"members"`

	// MaxIterations bounds the leader's delegation loop.
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" jsonschema:"default=10,minimum=1"`
}

func (c *TeamConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = TeamModeCoordinate
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
}

func (c *TeamConfig) Validate() error {
	switch c.Mode {
	case TeamModeRoute, TeamModeCoordinate:
	default:
		return fmt.Errorf("unknown team mode %q", c.Mode)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(c.Members) == 0 {
		return fmt.Errorf("at least one member is required")
	}
	return nil
}
