// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package provider

import (
	"context"
)

// Provider is the core interface for LLM backends.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Chat opens a streaming model call. Events arrive on the returned
	// channel; the channel is closed after a done or error event. The
	// stream stops when ctx is cancelled.
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)

	Close() error
}

// Router routes chat requests to a provider based on a model reference.
type Router interface {
	// Route resolves a "provider/model" ref (empty = default) to a provider
	// and concrete model name.
	Route(ctx context.Context, orgID, modelRef string) (Provider, string, error)
	RegisterProvider(name string, provider Provider) error
	Close() error
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	Model        string
	Messages     []Message
	Tools        []ToolDefinition
	SystemPrompt string
	Options      ChatOptions
}

// ChatOptions contains model configuration.
type ChatOptions struct {
	Temperature   float32
	MaxTokens     int
	StopSequences []string
}

// Message represents a conversation message.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCallSummary // assistant messages that requested tools
	ToolCallID string            // tool messages: the call being answered
	ToolName   string
}

// ToolCallSummary replays a completed tool call in conversation history.
type ToolCallSummary struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// ToolDefinition describes a capability offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatEvent is a streaming response event. Tool calls arrive as raw
// index-tagged fragments; assembling them into complete calls is the
// consumer's job.
type ChatEvent struct {
	Type         EventType
	Text         string
	ToolDelta    *ToolCallDelta
	Usage        *Usage
	FinishReason string
	Error        string
}

// EventType defines the type of chat event.
type EventType string

const (
	EventTypeTextDelta     EventType = "text_delta"
	EventTypeToolCallDelta EventType = "tool_call_delta"
	EventTypeUsage         EventType = "usage"
	EventTypeDone          EventType = "done"
	EventTypeError         EventType = "error"
)

// ToolCallDelta is one fragment of a streamed tool call. Index identifies
// the call slot within the response; ID and Name are present only on the
// first fragment for a slot, and ArgumentsDelta carries a chunk of the JSON
// argument text to be appended in arrival order.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// Usage tracks token consumption for one model call.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// ModelInfo describes a model's capabilities.
type ModelInfo struct {
	ID           string
	Name         string
	Provider     string
	Capabilities ModelCapabilities
}

// ModelCapabilities declares what a model supports.
type ModelCapabilities struct {
	SupportsTools     bool
	SupportsVision    bool
	SupportsStreaming bool
	MaxContextTokens  int
	MaxOutputTokens   int
}
