package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// JSONSchema generates a JSON Schema document for the config format.
// Editors and config builders consume this for completion and validation.
func JSONSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}

	schema := reflector.Reflect(&Config{})
	schema.Title = "Petrel configuration"
	schema.Description = "Agents, teams, models, tools, storage and knowledge bases."

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return out, nil
}

// Starter returns a minimal single-agent config document as YAML, used by
// `petrel init` to seed a new project.
func Starter() ([]byte, error) {
	cfg := &Config{
		Models: map[string]*ModelConfig{
			"default": {
				Provider: ModelProviderOpenAI,
				Model:    "gpt-4o",
				APIKey:   "${OPENAI_API_KEY}",
			},
		},
		Storage: map[string]*StorageConfig{
			"local": {
				Driver: StorageDriverSQLite,
				Path:   "petrel.db",
			},
		},
		Agents: map[string]*AgentConfig{
			"assistant": {
				Description:  "General-purpose assistant",
				Model:        "default",
				Instructions: "You are a helpful assistant.",
				Storage:      "local",
				Markdown:     true,
			},
		},
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal starter config: %w", err)
	}
	return out, nil
}
