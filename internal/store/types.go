// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package store

import (
	"encoding/json"
	"time"
)

// --- Session types ---

// SessionStatus represents the lifecycle state of a session. Exactly one
// round may be active while a session is processing.
type SessionStatus string

const (
	SessionStatusIdle       SessionStatus = "idle"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCancelling SessionStatus = "cancelling"
)

// Session represents a conversation session owned by an organization.
// Sessions are created on first message and never deleted by the round
// engine; deletion is an external administrative action.
type Session struct {
	ID        string
	OrgID     string
	AgentID   string
	ModelRef  string // "provider/model" reference, empty = configured default
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// --- Message types ---

// MessageRole identifies the sender of a message in a session.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCall is a model-requested tool invocation. Arguments is the raw JSON
// text exactly as accumulated from the stream; executors validate it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of a tool invocation, correlated to its call by
// ToolCallID. Results are upserted: a second delivery for the same call id
// overwrites the first.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Usage tracks token consumption for a single model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another call.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Timing records wall-clock checkpoints for a streamed assistant message.
type Timing struct {
	StartedAt    time.Time `json:"started_at"`
	FirstTokenAt time.Time `json:"first_token_at,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
}

// Message represents a single message in a session conversation. An
// assistant message is created as a streaming placeholder and mutated by the
// round stages; it becomes immutable once IsComplete is true.
type Message struct {
	ID           string
	SessionID    string
	Role         MessageRole
	Content      string
	ToolCalls    []ToolCall
	ToolResults  []ToolResult
	IsStreaming  bool
	IsComplete   bool
	FinishReason string
	Usage        *Usage
	Timing       Timing
	CreatedAt    time.Time
}

// ResultFor returns the tool result for the given call id, if present.
func (m *Message) ResultFor(toolCallID string) (ToolResult, bool) {
	for _, r := range m.ToolResults {
		if r.ToolCallID == toolCallID {
			return r, true
		}
	}
	return ToolResult{}, false
}

// Paired reports whether every tool call on the message has a matching tool
// result. Messages with unpaired tool calls are not eligible as conversation
// history.
func (m *Message) Paired() bool {
	for _, tc := range m.ToolCalls {
		if _, ok := m.ResultFor(tc.ID); !ok {
			return false
		}
	}
	return true
}

// AwaitingCallIDs returns the ids of tool calls that have no result yet.
func (m *Message) AwaitingCallIDs() []string {
	var ids []string
	for _, tc := range m.ToolCalls {
		if _, ok := m.ResultFor(tc.ID); !ok {
			ids = append(ids, tc.ID)
		}
	}
	return ids
}

// --- Billing types ---

// Account holds an organization's prepaid balance in micro-USD
// (1 USD = 1_000_000). Integer arithmetic avoids floating-point drift.
type Account struct {
	OrgID           string
	BalanceMicroUSD int64
	UpdatedAt       time.Time
}

// LedgerEntry records a single billed model call.
type LedgerEntry struct {
	ID           string
	OrgID        string
	SessionID    string
	ModelRef     string
	InputTokens  int
	OutputTokens int
	CostMicroUSD int64
	CreatedAt    time.Time
}

// --- Query options ---

// ListOpts provides pagination parameters for list operations.
type ListOpts struct {
	Limit  int
	Offset int
}
