package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType discriminates the Part union.
type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartToolInvocation PartType = "tool-invocation"
	PartSource         PartType = "source"
)

// Part is one ordered segment of a message. Exactly one payload field is set,
// selected by Type. Consumers must switch on Type and handle every variant.
type Part struct {
	Type           PartType        `json:"type"`
	Text           string          `json:"text,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
	ToolInvocation *ToolInvocation `json:"tool_invocation,omitempty"`
	Source         *Source         `json:"source,omitempty"`
}

// Source references external material cited by the assistant.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ToolState tracks the lifecycle of a tool invocation. For a given
// ToolCallID within one streaming turn the state only moves forward:
// call (or partial-call) -> result | error.
type ToolState string

const (
	ToolStateCall        ToolState = "call"
	ToolStatePartialCall ToolState = "partial-call"
	ToolStateResult      ToolState = "result"
	ToolStateError       ToolState = "error"
)

// ToolInvocation is embedded inside a tool-invocation Part. It is the unit
// of deduplication for side-effect dispatch.
type ToolInvocation struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	State      ToolState       `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Message is one turn in a conversation. Messages are immutable once
// persisted; history is only ever appended to.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Parts     []Part    `json:"parts,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolInvocations returns pointers to all tool-invocation parts, in order.
func (m *Message) ToolInvocations() []*ToolInvocation {
	if m == nil {
		return nil
	}
	var out []*ToolInvocation
	for i := range m.Parts {
		if m.Parts[i].Type == PartToolInvocation && m.Parts[i].ToolInvocation != nil {
			out = append(out, m.Parts[i].ToolInvocation)
		}
	}
	return out
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if len(m.Parts) > 0 {
		clone.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			cp := p
			if p.ToolInvocation != nil {
				inv := *p.ToolInvocation
				inv.Arguments = append(json.RawMessage(nil), p.ToolInvocation.Arguments...)
				inv.Result = append(json.RawMessage(nil), p.ToolInvocation.Result...)
				cp.ToolInvocation = &inv
			}
			if p.Source != nil {
				src := *p.Source
				cp.Source = &src
			}
			clone.Parts[i] = cp
		}
	}
	return &clone
}

// Conversation is the full persisted message history for one correlator.
type Conversation struct {
	ID        string     `json:"id"`
	Messages  []*Message `json:"messages"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Usage reports token consumption for one model call or one whole run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
