package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/models"
	"github.com/petrelhq/petrel/pkg/observability"
	"github.com/petrelhq/petrel/pkg/protocol"
)

const managerInstructions = `You maintain long-term memory about the user.
Given the existing memories and the latest conversation, decide which facts
are worth remembering across sessions: stable preferences, biographical
details, ongoing projects.

Return a JSON object with a "decisions" array. Each decision has:
- "action": "add", "update", or "delete"
- "id": the memory id (required for update and delete)
- "memory": the fact, written in third person (required for add and update)
- "topics": short topic tags

Return an empty array when nothing is worth remembering. Do not store
transient conversation details.`

var decisionsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decisions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{"type": "string", "enum": []string{"add", "update", "delete"}},
					"id":     map[string]any{"type": "string"},
					"memory": map[string]any{"type": "string"},
					"topics": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"action"},
			},
		},
	},
	"required": []string{"decisions"},
}

type memoryDecision struct {
	Action string   `json:"action"`
	ID     string   `json:"id,omitempty"`
	Memory string   `json:"memory,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// Manager maintains long-term user memories with the model deciding
// what to keep.
type Manager struct {
	model models.Model
	store Store
	cfg   *config.LongTermMemoryConfig
}

func NewManager(model models.Model, store Store, cfg *config.LongTermMemoryConfig) *Manager {
	return &Manager{model: model, store: store, cfg: cfg}
}

// Recall returns the user's memories for prompt injection, most recently
// updated first.
func (m *Manager) Recall(ctx context.Context, userID string) ([]*UserMemory, error) {
	return m.store.List(ctx, userID, m.cfg.RecallLimit)
}

// Update lets the model revise the user's memories based on the latest
// conversation. Failures are logged, not fatal: memory upkeep must not
// break a run.
func (m *Manager) Update(ctx context.Context, userID string, conversation []*protocol.Message) {
	tracer := observability.Tracer("petrel.memory")
	ctx, span := tracer.Start(ctx, observability.SpanMemoryUpdate)
	defer span.End()

	decisions, err := m.decide(ctx, userID, conversation)
	if err != nil {
		slog.Warn("memory update failed", "user_id", userID, "error", err)
		span.RecordError(err)
		return
	}

	for _, decision := range decisions {
		if err := m.apply(ctx, userID, decision); err != nil {
			slog.Warn("memory decision failed",
				"user_id", userID, "action", decision.Action, "error", err)
		}
	}
}

func (m *Manager) decide(ctx context.Context, userID string, conversation []*protocol.Message) ([]memoryDecision, error) {
	existing, err := m.store.List(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("Existing memories:\n")
	if len(existing) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, memory := range existing {
		fmt.Fprintf(&sb, "- [%s] %s\n", memory.ID, memory.Memory)
	}
	sb.WriteString("\nConversation:\n")
	for _, msg := range conversation {
		text := msg.Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, text)
	}

	resp, err := m.model.Generate(ctx, &models.Request{
		Messages: []*protocol.Message{
			protocol.NewSystemMessage(managerInstructions),
			protocol.NewUserMessage(sb.String()),
		},
		Output: &models.OutputSchema{
			Name:   "memory_decisions",
			Schema: decisionsSchema,
		},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Decisions []memoryDecision `json:"decisions"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse memory decisions: %w", err)
	}
	return parsed.Decisions, nil
}

func (m *Manager) apply(ctx context.Context, userID string, decision memoryDecision) error {
	switch decision.Action {
	case "add":
		if decision.Memory == "" {
			return fmt.Errorf("add decision without memory text")
		}
		return m.store.Add(ctx, &UserMemory{
			UserID: userID,
			Memory: decision.Memory,
			Topics: decision.Topics,
		})
	case "update":
		if decision.ID == "" || decision.Memory == "" {
			return fmt.Errorf("update decision missing id or memory text")
		}
		return m.store.Update(ctx, &UserMemory{
			ID:     decision.ID,
			UserID: userID,
			Memory: decision.Memory,
			Topics: decision.Topics,
		})
	case "delete":
		if decision.ID == "" {
			return fmt.Errorf("delete decision missing id")
		}
		return m.store.Delete(ctx, userID, decision.ID)
	default:
		return fmt.Errorf("unknown action %q", decision.Action)
	}
}

// SummarizeEnabled reports whether session summaries should be
// maintained after each run.
func (m *Manager) SummarizeEnabled() bool {
	return m.cfg != nil && m.cfg.Summarize
}

// SessionSummary returns the stored summary for a session, empty when
// none exists.
func (m *Manager) SessionSummary(ctx context.Context, userID, sessionID string) (string, error) {
	return m.store.GetSummary(ctx, userID, sessionID)
}

// Summarize produces and persists a session summary.
func (m *Manager) Summarize(ctx context.Context, userID, sessionID string, conversation []*protocol.Message) (string, error) {
	var sb strings.Builder
	for _, msg := range conversation {
		text := msg.Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, text)
	}

	resp, err := m.model.Generate(ctx, &models.Request{
		Messages: []*protocol.Message{
			protocol.NewSystemMessage("Write a short summary of this session: what the user wanted and what was done."),
			protocol.NewUserMessage(sb.String()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize session: %w", err)
	}

	if err := m.store.SetSummary(ctx, userID, sessionID, resp.Text); err != nil {
		return "", err
	}
	return resp.Text, nil
}
