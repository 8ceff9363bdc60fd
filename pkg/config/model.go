package config

import "fmt"

// ModelProvider identifies the LLM provider type.
type ModelProvider string

const (
	ModelProviderOpenAI    ModelProvider = "openai"
	ModelProviderAnthropic ModelProvider = "anthropic"
	ModelProviderOllama    ModelProvider = "ollama"
)

// ModelConfig configures an LLM provider instance.
type ModelConfig struct {
	// Provider type (openai, anthropic, ollama).
	Provider ModelProvider `yaml:"provider" json:"provider" jsonschema:"enum=openai,enum=anthropic,enum=ollama"`

	// Model identifier (e.g. "gpt-4o", "claude-sonnet-4-20250514").
	Model string `yaml:"model" json:"model"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint. Required for Ollama and
	// OpenAI-compatible servers.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Temperature for sampling. Nil means provider default.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`

	// MaxTokens caps response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"minimum=1,default=4096"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"default=120"`

	// MaxRetries for transient HTTP failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"default=3"`

	// RetryDelay is the base backoff delay in seconds.
	RetryDelay int `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty" jsonschema:"default=2"`

	// Thinking enables extended thinking / reasoning effort where the
	// provider supports it.
	Thinking *ThinkingConfig `yaml:"thinking,omitempty" json:"thinking,omitempty"`
}

// ThinkingConfig configures extended thinking.
type ThinkingConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// BudgetTokens bounds the thinking budget (Anthropic) or is mapped to
	// a reasoning-effort level (OpenAI o-series).
	BudgetTokens int `yaml:"budget_tokens,omitempty" json:"budget_tokens,omitempty"`
}

func (c *ModelConfig) SetDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ModelProviderOpenAI:
			c.BaseURL = "https://api.openai.com/v1"
		case ModelProviderAnthropic:
			c.BaseURL = "https://api.anthropic.com/v1"
		case ModelProviderOllama:
			c.BaseURL = "http://localhost:11434"
		}
	}
}

func (c *ModelConfig) Validate() error {
	switch c.Provider {
	case ModelProviderOpenAI, ModelProviderAnthropic, ModelProviderOllama:
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature %v out of range [0, 2]", *c.Temperature)
	}

	return nil
}
