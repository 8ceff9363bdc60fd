package models

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/petrelhq/petrel/pkg/protocol"
)

// TokenCounter estimates token usage for a given encoding. Counts are
// approximate for non-OpenAI models but close enough for budgeting.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the named encoding (e.g. cl100k_base, o200k_base).
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", encoding, err)
	}
	return &TokenCounter{encoding: tke}, nil
}

// Count returns the token count of a string.
func (c *TokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessage counts a message's text content plus a small per-message
// overhead for role framing.
func (c *TokenCounter) CountMessage(msg *protocol.Message) int {
	const perMessageOverhead = 4

	count := perMessageOverhead + c.Count(msg.Text())
	for _, tc := range msg.ToolCalls {
		count += c.Count(tc.Name)
		for k, v := range tc.Args {
			count += c.Count(k) + c.Count(fmt.Sprint(v))
		}
	}
	for _, tr := range msg.ToolResults {
		count += c.Count(tr.Content)
	}
	return count
}

// CountMessages sums CountMessage over a conversation.
func (c *TokenCounter) CountMessages(msgs []*protocol.Message) int {
	total := 0
	for _, msg := range msgs {
		total += c.CountMessage(msg)
	}
	return total
}
