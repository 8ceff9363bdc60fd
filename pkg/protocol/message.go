// Package protocol defines the conversation wire model shared by every
// layer: messages, roles, content parts, tool calls and tool results.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartTypeText        PartType = "text"
	PartTypeImageURL    PartType = "image_url"
	PartTypeImageBase64 PartType = "image_base64"
)

// Part is a segment of message content. Text parts carry Text; image parts
// carry either a URL or base64 Data plus a media type.
type Part struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	URL       string   `json:"url,omitempty"`
	MediaType string   `json:"media_type,omitempty"`
	Data      []byte   `json:"data,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is the outcome of executing a tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is a single conversation turn. Assistant messages may carry tool
// calls; tool messages carry the matching results.
type Message struct {
	ID          string       `json:"id,omitempty"`
	Role        Role         `json:"role"`
	Parts       []Part       `json:"parts,omitempty"`
	ToolCalls   []*ToolCall  `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

// NewMessage creates a message with a generated ID and UTC timestamp.
func NewMessage(role Role, text string) *Message {
	msg := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if text != "" {
		msg.Parts = []Part{{Type: PartTypeText, Text: text}}
	}
	return msg
}

// NewSystemMessage creates a system message.
func NewSystemMessage(text string) *Message { return NewMessage(RoleSystem, text) }

// NewUserMessage creates a user message.
func NewUserMessage(text string) *Message { return NewMessage(RoleUser, text) }

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(text string) *Message { return NewMessage(RoleAssistant, text) }

// NewToolCallMessage creates an assistant message carrying tool calls.
func NewToolCallMessage(calls []*ToolCall) *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.ToolCalls = calls
	return msg
}

// NewToolResultMessage creates a tool message carrying results.
func NewToolResultMessage(results []ToolResult) *Message {
	msg := NewMessage(RoleTool, "")
	msg.ToolResults = results
	return msg
}

// Text returns the concatenated text parts of the message.
func (m *Message) Text() string {
	switch len(m.Parts) {
	case 0:
		return ""
	case 1:
		if m.Parts[0].Type == PartTypeText {
			return m.Parts[0].Text
		}
		return ""
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// AppendText appends text to the message, merging into a trailing text part
// when one exists.
func (m *Message) AppendText(text string) {
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == PartTypeText {
		m.Parts[n-1].Text += text
		return
	}
	m.Parts = append(m.Parts, Part{Type: PartTypeText, Text: text})
}

// HasToolCalls reports whether the message requests tool execution.
func (m *Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }
