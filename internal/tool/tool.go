// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

// Package tool defines the capability surface the round engine can dispatch
// to. A tool is either local (returns its result inline) or remote (returns a
// pending marker; the result arrives later through the resume endpoint).
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/funmax-dev/funmax/internal/store"
)

// Invocation carries a single tool call plus the session context it runs in.
type Invocation struct {
	SessionID string
	MessageID string
	Round     int
	Call      store.ToolCall
}

// Outcome is what executing a tool produces. For local tools Result is final
// and Pending is false. Remote tools set Pending; the round pauses and the
// real result is delivered later, keyed by the call id.
type Outcome struct {
	Result  store.ToolResult
	Pending bool
}

// Tool is a capability the model can invoke. Execution failure is data, not
// an error: a tool that cannot do its job returns a ToolResult with
// Success=false so the model can react to it.
type Tool interface {
	Name() string
	Description() string

	// ParameterSchema returns the JSON Schema for the tool's arguments. It
	// is validated at registration time and advertised to the model.
	ParameterSchema() map[string]any

	Execute(ctx context.Context, inv Invocation) Outcome
}

// Signaller records a completion signal for a session. The designated
// terminal tool uses it to end the episode.
type Signaller interface {
	SignalCompletion(ctx context.Context, sessionID, signalType string, params json.RawMessage) error
}

// Success builds a successful outcome for the given call.
func Success(call store.ToolCall, data json.RawMessage, message string) Outcome {
	return Outcome{Result: store.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    true,
		Data:       data,
		Message:    message,
	}}
}

// Failure builds a failed outcome for the given call. Failure is a result
// the model sees, not an abort.
func Failure(call store.ToolCall, errMsg string) Outcome {
	return Outcome{Result: store.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    false,
		Error:      errMsg,
	}}
}

// Failuref is Failure with formatting.
func Failuref(call store.ToolCall, format string, args ...any) Outcome {
	return Failure(call, fmt.Sprintf(format, args...))
}

// Pending builds an outcome that suspends the round until the remote
// executor delivers the real result.
func Pending(call store.ToolCall) Outcome {
	return Outcome{
		Result: store.ToolResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
		},
		Pending: true,
	}
}
