// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package builtin

import (
	"context"
	"encoding/json"

	"github.com/funmax-dev/funmax/internal/tool"
)

// WebSearchTool is a remote capability: the search runs in a browser-hosted
// executor on the client side. Execution returns a pending marker; the real
// result arrives through the tool-results resume endpoint.
type WebSearchTool struct{}

// NewWebSearchTool returns the remote web search capability.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Runs in the connected client; results may take a while to arrive."
}

func (t *WebSearchTool) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return.",
				"minimum":     1,
				"maximum":     20,
			},
		},
		"required": []any{"query"},
	}
}

func (t *WebSearchTool) Execute(_ context.Context, inv tool.Invocation) tool.Outcome {
	// Reject unparseable arguments locally; there is no point pausing the
	// round for a call the executor cannot run.
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(inv.Call.Arguments), &args); err != nil {
		return tool.Failuref(inv.Call, "parsing arguments: %v", err)
	}
	if args.Query == "" {
		return tool.Failure(inv.Call, "query must not be empty")
	}

	return tool.Pending(inv.Call)
}
