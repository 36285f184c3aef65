// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"context"
	"log/slog"
	"strings"

	"github.com/funmax-dev/funmax/internal/billing"
	"github.com/funmax-dev/funmax/internal/store"
)

// nextAction tells the orchestrator what follows the observe stage.
type nextAction int

const (
	actionContinue nextAction = iota // enter the next reasoning round
	actionFinish                     // episode is over
	actionSuspend                    // still awaiting remote results
)

// observe closes out one round: reconciles usage, bills it, marks the
// assistant message complete, bumps the durable iteration counter and
// decides whether the loop continues. finishData is the push payload when
// the action is actionFinish.
func (e *Engine) observe(ctx context.Context, session *store.Session, msg *store.Message,
	modelRef string) (nextAction, map[string]any, error) {

	// Re-read so results delivered through the resume endpoint are seen.
	msg, err := e.messages.GetMessage(ctx, session.ID, msg.ID)
	if err != nil {
		return actionFinish, nil, err
	}

	if len(msg.ToolCalls) > 0 && !msg.Paired() {
		// Remote results still outstanding; the resume endpoint re-enters
		// here once the awaiting set is covered.
		return actionSuspend, nil, nil
	}

	e.reconcileUsage(session, msg, modelRef)

	msg.IsComplete = true
	if err := e.messages.UpdateMessage(ctx, msg); err != nil {
		return actionFinish, nil, err
	}

	if msg.Usage != nil {
		cost := e.ledger.RecordUsage(ctx, session.OrgID, session.ID, modelRef, *msg.Usage)
		slog.Debug("round billed",
			"session_id", session.ID,
			"model_ref", modelRef,
			"cost_micro_usd", cost)
	}

	// Plain reply: the model answered without tools, the episode is done.
	if len(msg.ToolCalls) == 0 {
		return actionFinish, map[string]any{"reason": "answered"}, nil
	}

	count, err := e.iterations.Next(ctx, session.ID)
	if err != nil {
		return actionFinish, nil, err
	}

	signal, err := e.signals.Consume(ctx, session.ID)
	if err != nil {
		return actionFinish, nil, err
	}
	if signal != nil {
		return actionFinish, map[string]any{"reason": "completed", "signal": signal.Type}, nil
	}

	// The cap is checked before the next round starts, so round N itself
	// always finishes its accounting.
	if count >= e.cfg.MaxIterations {
		slog.Warn("iteration cap reached, terminating episode",
			"session_id", session.ID,
			"iterations", count)
		return actionFinish, map[string]any{"reason": "iteration_cap", "iterations": count}, nil
	}

	return actionContinue, nil, nil
}

// reconcileUsage fills in token counts when the provider's stream omitted
// them, so billing never runs on a zero.
func (e *Engine) reconcileUsage(session *store.Session, msg *store.Message, modelRef string) {
	if msg.Usage != nil && (msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0) {
		return
	}
	if msg.Content == "" {
		// Nothing to estimate from; leave usage unset rather than bill air.
		return
	}

	model := modelRef
	if idx := strings.LastIndex(modelRef, "/"); idx >= 0 {
		model = modelRef[idx+1:]
	}

	estimated := billing.EstimateOutputTokens(model, msg.Content)
	slog.Debug("provider omitted usage, using token estimate",
		"session_id", session.ID,
		"message_id", msg.ID,
		"estimated_output_tokens", estimated.OutputTokens)

	if msg.Usage == nil {
		msg.Usage = &store.Usage{}
	}
	msg.Usage.OutputTokens = estimated.OutputTokens
}
