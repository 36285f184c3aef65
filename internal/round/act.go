// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"context"
	"log/slog"
	"time"

	"github.com/funmax-dev/funmax/internal/push"
	"github.com/funmax-dev/funmax/internal/store"
	"github.com/funmax-dev/funmax/internal/tool"
)

// act dispatches every tool call on the assistant message. Local tools write
// their result inline; remote tools leave the round suspended behind a
// persisted pause record. Returns whether the round paused.
func (e *Engine) act(ctx context.Context, session *store.Session, msg *store.Message, round int64) (bool, error) {
	var awaiting []string

	for _, call := range msg.ToolCalls {
		e.broker.Emit(push.NewEvent(push.EventToolStart, session.ID, msg.ID,
			map[string]string{"tool": call.Name, "tool_call_id": call.ID}))

		// Schema validation is advisory: the model's arguments get
		// forwarded either way, the executor decides what it can live with.
		if err := e.tools.ValidateArgs(call.Name, call.Arguments); err != nil {
			slog.Warn("tool call arguments failed schema validation",
				"session_id", session.ID,
				"tool", call.Name,
				"error", err)
		}

		outcome := e.tools.Execute(ctx, tool.Invocation{
			SessionID: session.ID,
			MessageID: msg.ID,
			Round:     int(round),
			Call:      call,
		})

		if outcome.Pending {
			awaiting = append(awaiting, call.ID)
			continue
		}

		if _, err := e.messages.UpsertToolResult(ctx, session.ID, msg.ID, outcome.Result); err != nil {
			return false, err
		}
		e.broker.Emit(push.NewEvent(push.EventToolResult, session.ID, msg.ID, outcome.Result))
	}

	if len(awaiting) == 0 {
		return false, nil
	}

	rec := &PauseRecord{
		SessionID: session.ID,
		MessageID: msg.ID,
		Round:     round,
		Awaiting:  awaiting,
		ModelRef:  session.ModelRef,
		PausedAt:  time.Now(),
	}
	if err := e.pauses.Save(ctx, rec); err != nil {
		return false, err
	}

	e.broker.Emit(push.NewEvent(push.EventRoundPaused, session.ID, msg.ID,
		map[string]any{"awaiting": awaiting}))
	slog.Info("round paused on remote tool calls",
		"session_id", session.ID,
		"message_id", msg.ID,
		"awaiting", len(awaiting))
	return true, nil
}
