// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package builtin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/funmax-dev/funmax/internal/tool"
)

// ClockTool reports the current time. It exists mostly so models stop
// guessing dates; it is also the simplest possible local executor.
type ClockTool struct {
	now func() time.Time
}

// NewClockTool returns a clock reading wall time.
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

// SetNowFunc overrides the time source. Test hook.
func (t *ClockTool) SetNowFunc(now func() time.Time) { t.now = now }

func (t *ClockTool) Name() string { return "clock" }

func (t *ClockTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone."
}

func (t *ClockTool) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name, e.g. Europe/Berlin. Defaults to UTC.",
			},
		},
	}
}

func (t *ClockTool) Execute(_ context.Context, inv tool.Invocation) tool.Outcome {
	var args struct {
		Timezone string `json:"timezone"`
	}
	if inv.Call.Arguments != "" {
		if err := json.Unmarshal([]byte(inv.Call.Arguments), &args); err != nil {
			return tool.Failuref(inv.Call, "parsing arguments: %v", err)
		}
	}

	loc := time.UTC
	if args.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(args.Timezone)
		if err != nil {
			return tool.Failuref(inv.Call, "unknown timezone %q", args.Timezone)
		}
	}

	now := t.now().In(loc)
	data, _ := json.Marshal(map[string]string{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	})
	return tool.Success(inv.Call, data, "")
}
