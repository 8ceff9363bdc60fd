package config

import "fmt"

// WorkflowConfig declares a sequential workflow of agent steps. Richer
// composition (conditions, loops, parallel fan-out) is built in code with
// the workflow package.
type WorkflowConfig struct {
	Name        string `yaml:"-" json:"-"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Steps []*WorkflowStepConfig `yaml:"steps" json:"steps"`
}

// WorkflowStepConfig is one step in a declared workflow.
type WorkflowStepConfig struct {
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Agent string `yaml:"agent" json:"agent"`
}

func (c *WorkflowConfig) SetDefaults() {
	for _, step := range c.Steps {
		if step.Name == "" {
			step.Name = step.Agent
		}
	}
}

func (c *WorkflowConfig) Validate() error {
	if len(c.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range c.Steps {
		if step.Agent == "" {
			return fmt.Errorf("step %d: agent is required", i)
		}
	}
	return nil
}
