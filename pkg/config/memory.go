package config

import "fmt"

// WorkingMemoryStrategy selects how the in-run message window is managed.
type WorkingMemoryStrategy string

const (
	WorkingMemoryBufferWindow  WorkingMemoryStrategy = "buffer_window"
	WorkingMemorySummaryBuffer WorkingMemoryStrategy = "summary_buffer"
	WorkingMemoryTokenAware    WorkingMemoryStrategy = "token_aware"
)

// MemoryConfig configures an agent's memory layers.
type MemoryConfig struct {
	Working  WorkingMemoryConfig  `yaml:"working,omitempty" json:"working,omitempty"`
	LongTerm LongTermMemoryConfig `yaml:"long_term,omitempty" json:"long_term,omitempty"`
}

// WorkingMemoryConfig configures the in-run message window.
type WorkingMemoryConfig struct {
	Strategy WorkingMemoryStrategy `yaml:"strategy,omitempty" json:"strategy,omitempty" jsonschema:"enum=buffer_window,enum=summary_buffer,enum=token_aware,default=buffer_window"`

	// WindowSize is the message count kept by buffer_window, and the
	// post-summary tail kept by summary_buffer.
	WindowSize int `yaml:"window_size,omitempty" json:"window_size,omitempty" jsonschema:"default=20"`

	// SummarizeAfter triggers summarization once the history exceeds this
	// many messages (summary_buffer only).
	SummarizeAfter int `yaml:"summarize_after,omitempty" json:"summarize_after,omitempty" jsonschema:"default=40"`

	// TokenBudget is the prompt token ceiling (token_aware only).
	TokenBudget int `yaml:"token_budget,omitempty" json:"token_budget,omitempty" jsonschema:"default=8192"`

	// TokenEncoding names the tiktoken encoding used for counting.
	TokenEncoding string `yaml:"token_encoding,omitempty" json:"token_encoding,omitempty" jsonschema:"default=cl100k_base"`
}

// LongTermMemoryConfig configures cross-session user memories.
type LongTermMemoryConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// RecallLimit caps memories injected into the system prompt.
	RecallLimit int `yaml:"recall_limit,omitempty" json:"recall_limit,omitempty" jsonschema:"default=10"`

	// Summarize keeps an LLM-maintained session summary alongside memories.
	Summarize bool `yaml:"summarize,omitempty" json:"summarize,omitempty"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.Working.Strategy == "" {
		c.Working.Strategy = WorkingMemoryBufferWindow
	}
	if c.Working.WindowSize == 0 {
		c.Working.WindowSize = 20
	}
	if c.Working.SummarizeAfter == 0 {
		c.Working.SummarizeAfter = 40
	}
	if c.Working.TokenBudget == 0 {
		c.Working.TokenBudget = 8192
	}
	if c.Working.TokenEncoding == "" {
		c.Working.TokenEncoding = "cl100k_base"
	}
	if c.LongTerm.RecallLimit == 0 {
		c.LongTerm.RecallLimit = 10
	}
}

func (c *MemoryConfig) Validate() error {
	switch c.Working.Strategy {
	case WorkingMemoryBufferWindow, WorkingMemorySummaryBuffer, WorkingMemoryTokenAware, "":
	default:
		return fmt.Errorf("unknown working memory strategy %q", c.Working.Strategy)
	}
	return nil
}
