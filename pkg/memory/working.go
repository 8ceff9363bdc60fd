// Package memory manages what an agent remembers: the working message
// window assembled from run history, and long-term user memories
// maintained across sessions by the model itself.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/models"
	"github.com/petrelhq/petrel/pkg/protocol"
	"github.com/petrelhq/petrel/pkg/storage"
)

// WorkingStrategy turns run history into the message window offered to
// the model.
type WorkingStrategy interface {
	Name() string
	Prepare(ctx context.Context, runs []*storage.Run) ([]*protocol.Message, error)
}

// NewWorkingStrategy builds the configured strategy. model is only
// needed for summary_buffer.
func NewWorkingStrategy(cfg *config.WorkingMemoryConfig, model models.Model) (WorkingStrategy, error) {
	switch cfg.Strategy {
	case config.WorkingMemoryBufferWindow, "":
		return &BufferWindow{WindowSize: cfg.WindowSize}, nil
	case config.WorkingMemorySummaryBuffer:
		if model == nil {
			return nil, fmt.Errorf("summary_buffer strategy requires a model")
		}
		return &SummaryBuffer{
			WindowSize:     cfg.WindowSize,
			SummarizeAfter: cfg.SummarizeAfter,
			model:          model,
		}, nil
	case config.WorkingMemoryTokenAware:
		counter, err := models.NewTokenCounter(cfg.TokenEncoding)
		if err != nil {
			return nil, err
		}
		return &TokenAware{TokenBudget: cfg.TokenBudget, counter: counter}, nil
	default:
		return nil, fmt.Errorf("unknown working memory strategy %q", cfg.Strategy)
	}
}

func historyMessages(runs []*storage.Run) []*protocol.Message {
	var messages []*protocol.Message
	for _, run := range runs {
		messages = append(messages, run.Messages...)
	}
	return messages
}

// BufferWindow keeps the most recent N messages.
type BufferWindow struct {
	WindowSize int
}

func (s *BufferWindow) Name() string { return "buffer_window" }

func (s *BufferWindow) Prepare(ctx context.Context, runs []*storage.Run) ([]*protocol.Message, error) {
	messages := historyMessages(runs)
	if s.WindowSize > 0 && len(messages) > s.WindowSize {
		messages = messages[len(messages)-s.WindowSize:]
	}
	return messages, nil
}

// SummaryBuffer summarizes older history once it grows past
// SummarizeAfter messages, keeping the last WindowSize messages verbatim
// behind a summary message.
type SummaryBuffer struct {
	WindowSize     int
	SummarizeAfter int
	model          models.Model
}

func (s *SummaryBuffer) Name() string { return "summary_buffer" }

func (s *SummaryBuffer) Prepare(ctx context.Context, runs []*storage.Run) ([]*protocol.Message, error) {
	messages := historyMessages(runs)
	if len(messages) <= s.SummarizeAfter {
		return messages, nil
	}

	tail := messages
	if s.WindowSize > 0 && len(tail) > s.WindowSize {
		tail = tail[len(tail)-s.WindowSize:]
	}
	head := messages[:len(messages)-len(tail)]
	if len(head) == 0 {
		return tail, nil
	}

	summary, err := s.summarize(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize history: %w", err)
	}

	window := make([]*protocol.Message, 0, len(tail)+1)
	window = append(window, protocol.NewSystemMessage("Summary of the conversation so far:\n"+summary))
	window = append(window, tail...)
	return window, nil
}

func (s *SummaryBuffer) summarize(ctx context.Context, messages []*protocol.Message) (string, error) {
	var sb strings.Builder
	for _, msg := range messages {
		text := msg.Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, text)
	}

	resp, err := s.model.Generate(ctx, &models.Request{
		Messages: []*protocol.Message{
			protocol.NewSystemMessage("Summarize the conversation below, preserving facts, decisions, and open tasks. Be concise."),
			protocol.NewUserMessage(sb.String()),
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// TokenAware keeps the most recent messages that fit the token budget.
type TokenAware struct {
	TokenBudget int
	counter     *models.TokenCounter
}

func (s *TokenAware) Name() string { return "token_aware" }

func (s *TokenAware) Prepare(ctx context.Context, runs []*storage.Run) ([]*protocol.Message, error) {
	messages := historyMessages(runs)

	total := 0
	cut := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		total += s.counter.CountMessage(messages[i])
		if total > s.TokenBudget {
			break
		}
		cut = i
	}
	return messages[cut:], nil
}
