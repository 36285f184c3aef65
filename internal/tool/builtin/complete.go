// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

// Package builtin provides the tools every agent gets: the terminal
// `complete` tool, a clock, and the remote web search capability.
package builtin

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/funmax-dev/funmax/internal/tool"
)

// CompleteTool is the designated terminal tool. Invoking it records a
// completion signal for the session; the observe stage consumes the signal
// and ends the episode instead of looping.
type CompleteTool struct {
	signaller tool.Signaller
}

// NewCompleteTool wires the terminal tool to a completion signaller.
func NewCompleteTool(signaller tool.Signaller) *CompleteTool {
	return &CompleteTool{signaller: signaller}
}

func (t *CompleteTool) Name() string { return "complete" }

func (t *CompleteTool) Description() string {
	return "Finish the task. Call this when the user's request is fully handled; pass a short summary of what was done."
}

func (t *CompleteTool) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "One or two sentences describing the outcome.",
			},
		},
		"required": []any{"summary"},
	}
}

func (t *CompleteTool) Execute(ctx context.Context, inv tool.Invocation) tool.Outcome {
	var args struct {
		Summary string `json:"summary"`
	}
	// Malformed arguments still complete the episode; the summary is a
	// courtesy, not a contract.
	if err := json.Unmarshal([]byte(inv.Call.Arguments), &args); err != nil {
		slog.Warn("complete tool called with malformed arguments",
			"session_id", inv.SessionID, "error", err)
	}

	params, _ := json.Marshal(map[string]string{"summary": args.Summary})
	if err := t.signaller.SignalCompletion(ctx, inv.SessionID, "complete", params); err != nil {
		return tool.Failuref(inv.Call, "recording completion signal: %v", err)
	}

	return tool.Success(inv.Call, params, "task marked complete")
}
