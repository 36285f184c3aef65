// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

// Package round drives agent episodes: prepare, then reason / act / observe
// until the model answers plainly, a completion signal is set, the iteration
// cap trips, the user cancels, or a stage aborts. Remote tool calls suspend
// the loop behind a durable pause record and the resume endpoint re-enters
// it, surviving process restarts.
package round

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/funmax-dev/funmax/internal/billing"
	"github.com/funmax-dev/funmax/internal/provider"
	"github.com/funmax-dev/funmax/internal/push"
	"github.com/funmax-dev/funmax/internal/store"
	"github.com/funmax-dev/funmax/internal/tool"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Config tunes the engine. Zero values take defaults.
type Config struct {
	MaxIterations    int64         // rounds per episode before forced termination
	MaxStreamRetries int           // retries after the first stream attempt
	StreamRetryDelay time.Duration // fixed delay between stream attempts
	StreamTimeout    time.Duration // wall-clock budget for one reason stage
	PauseTTL         time.Duration // lifetime of a pause record
	SystemPrompt     string
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 20
	}
	if c.MaxStreamRetries < 0 {
		c.MaxStreamRetries = 0
	}
	if c.MaxStreamRetries == 0 {
		c.MaxStreamRetries = 3
	}
	if c.StreamRetryDelay <= 0 {
		c.StreamRetryDelay = 2 * time.Second
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = 5 * time.Minute
	}
	return c
}

// Deps are the engine's collaborators.
type Deps struct {
	Sessions  store.SessionStore
	Messages  store.MessageStore
	KV        store.KV
	Router    provider.Router
	Tools     *tool.Registry
	Ledger    *billing.Ledger
	Broker    *push.Broker
	Debouncer *push.Debouncer
}

// Engine orchestrates episodes. One episode at a time per session (enforced
// by the store CAS), serialised per session by lanes, parallel across
// sessions.
type Engine struct {
	sessions store.SessionStore
	messages store.MessageStore
	router   provider.Router
	tools    *tool.Registry
	ledger   *billing.Ledger
	broker   *push.Broker

	debouncer  *push.Debouncer
	state      *StateMachine
	iterations *IterationCounter
	signals    *SignalStore
	pauses     *PauseStore
	lanes      *LanePool
	cfg        Config
}

// NewEngine wires an engine from its dependencies.
func NewEngine(deps Deps, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		sessions:   deps.Sessions,
		messages:   deps.Messages,
		router:     deps.Router,
		tools:      deps.Tools,
		ledger:     deps.Ledger,
		broker:     deps.Broker,
		debouncer:  deps.Debouncer,
		state:      NewStateMachine(deps.Sessions),
		iterations: NewIterationCounter(deps.KV, 0),
		signals:    NewSignalStore(deps.KV, 0),
		pauses:     NewPauseStore(deps.KV, cfg.PauseTTL),
		lanes:      NewLanePool(),
		cfg:        cfg,
	}
}

// Signals exposes the completion-signal store, used to wire the terminal
// tool.
func (e *Engine) Signals() *SignalStore { return e.signals }

// Pauses exposes the pause store, used by the sweeper.
func (e *Engine) Pauses() *PauseStore { return e.pauses }

// Close shuts down the per-session lanes, draining in-flight work.
func (e *Engine) Close() error {
	e.lanes.Close()
	return nil
}

// Run executes one episode for a user message, serialised on the session's
// lane. It blocks until the episode completes, pauses on remote tools, or
// fails.
func (e *Engine) Run(ctx context.Context, sessionID, userContent string) error {
	if strings.TrimSpace(userContent) == "" {
		return fmerr.New(fmerr.CodeRoundInvalidInput, "message content must not be empty",
			fmerr.FieldSessionID(sessionID))
	}

	return e.lanes.Get(sessionID).Submit(ctx, func(ctx context.Context) error {
		return e.runEpisode(ctx, sessionID, userContent)
	})
}

// Cancel requests cooperative cancellation of the session's active episode.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	return e.state.RequestCancel(ctx, sessionID)
}

func (e *Engine) runEpisode(ctx context.Context, sessionID, userContent string) error {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := e.state.BeginProcessing(ctx, sessionID); err != nil {
		return err
	}

	userMsg := &store.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       store.MessageRoleUser,
		Content:    userContent,
		IsComplete: true,
		CreatedAt:  time.Now(),
	}
	if err := e.messages.AppendMessage(ctx, userMsg); err != nil {
		return e.abort(ctx, session, err)
	}

	return e.loop(ctx, session)
}

// loop runs reasoning rounds until a terminal state. Any error return has
// already released the session.
func (e *Engine) loop(ctx context.Context, session *store.Session) error {
	var round int64
	for {
		round++

		// Re-check before every reasoning entry: a cancel request between
		// rounds must win before another model call is made.
		active, err := e.state.StillProcessing(ctx, session.ID)
		if err != nil {
			return e.abort(ctx, session, err)
		}
		if !active {
			return e.cancelled(ctx, session)
		}

		prov, model, err := e.router.Route(ctx, session.OrgID, session.ModelRef)
		if err != nil {
			return e.abort(ctx, session, err)
		}
		modelRef := prov.Name() + "/" + model

		history, systemPrompt, err := e.prepare(ctx, session)
		if err != nil {
			return e.abort(ctx, session, err)
		}

		if err := e.checkBalance(ctx, session, modelRef, model, systemPrompt, history); err != nil {
			return e.abort(ctx, session, err)
		}

		e.broker.Emit(push.NewEvent(push.EventRoundStart, session.ID, "",
			map[string]any{"round": round, "model_ref": modelRef}))

		msg, err := e.reason(ctx, session, history, systemPrompt, prov, model)
		if err != nil {
			if fmerr.HasCode(err, fmerr.CodeRoundSessionInactive) {
				return e.cancelled(ctx, session)
			}
			return e.abort(ctx, session, err)
		}

		if len(msg.ToolCalls) > 0 {
			pending, err := e.act(ctx, session, msg, round)
			if err != nil {
				return e.abort(ctx, session, err)
			}
			if pending {
				// Session stays in processing; the resume endpoint (or the
				// sweeper, eventually) takes it from here.
				return nil
			}
		}

		next, finishData, err := e.observe(ctx, session, msg, modelRef)
		if err != nil {
			return e.abort(ctx, session, err)
		}
		switch next {
		case actionFinish:
			return e.complete(ctx, session, finishData)
		case actionSuspend:
			return nil
		case actionContinue:
		}
	}
}

// Resume delivers remote tool results into a paused round. Deliveries are
// idempotent upserts keyed by tool call id; once the awaiting set is covered
// the episode re-enters the observe stage on the session's lane, detached
// from the caller's request lifetime.
func (e *Engine) Resume(ctx context.Context, sessionID, messageID string, results []store.ToolResult) error {
	rec, err := e.pauses.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.MessageID != messageID {
		return fmerr.New(fmerr.CodeRoundResumeMismatch, "tool results target a different message",
			fmerr.FieldSessionID(sessionID),
			fmerr.FieldMessageID(messageID),
			fmerr.Field("paused_message_id", rec.MessageID))
	}

	msg, err := e.messages.GetMessage(ctx, sessionID, messageID)
	if err != nil {
		return err
	}

	for _, result := range results {
		name := ""
		for _, tc := range msg.ToolCalls {
			if tc.ID == result.ToolCallID {
				name = tc.Name
				break
			}
		}
		if name == "" {
			return fmerr.New(fmerr.CodeRoundResumeMismatch, "result for unknown tool call",
				fmerr.FieldSessionID(sessionID),
				fmerr.Field("tool_call_id", result.ToolCallID))
		}
		if result.ToolName == "" {
			result.ToolName = name
		}

		msg, err = e.messages.UpsertToolResult(ctx, sessionID, messageID, result)
		if err != nil {
			return err
		}
		e.broker.Emit(push.NewEvent(push.EventToolResult, sessionID, messageID, result))
	}

	if !msg.Paired() {
		// Partial delivery; stay paused until the rest arrives.
		return nil
	}

	// The pause record stays in place until the continuation's observe
	// finishes: it is both the crash-recovery marker for the sweeper and
	// the admission ticket that makes the continuation run once.
	bg := context.WithoutCancel(ctx)
	go func() {
		err := e.lanes.Get(sessionID).Submit(bg, func(ctx context.Context) error {
			return e.continueEpisode(ctx, sessionID, messageID)
		})
		if err != nil {
			slog.Error("resumed episode failed",
				"session_id", sessionID,
				"message_id", messageID,
				"error", err)
		}
	}()
	return nil
}

// continueEpisode re-enters the loop at the observe stage after a pause.
// The pause record is the admission ticket: concurrent result deliveries
// can each schedule a continuation, the lane serialises them, and only the
// one that finds the record still present proceeds. It is cleared only
// after observe finishes, so a crash before that leaves the record for the
// sweeper to reclaim.
func (e *Engine) continueEpisode(ctx context.Context, sessionID, messageID string) error {
	if _, err := e.pauses.Get(ctx, sessionID); err != nil {
		if fmerr.HasCode(err, fmerr.CodeRoundNotPaused) {
			// An earlier continuation already took this round through
			// observe; nothing left to do.
			return nil
		}
		return err
	}

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	msg, err := e.messages.GetMessage(ctx, sessionID, messageID)
	if err != nil {
		return e.abortResumed(ctx, session, err)
	}

	prov, model, err := e.router.Route(ctx, session.OrgID, session.ModelRef)
	if err != nil {
		return e.abortResumed(ctx, session, err)
	}
	modelRef := prov.Name() + "/" + model

	next, finishData, err := e.observe(ctx, session, msg, modelRef)
	if err != nil {
		return e.abortResumed(ctx, session, err)
	}
	if next != actionSuspend {
		if err := e.pauses.Clear(ctx, sessionID); err != nil {
			slog.Error("failed to clear pause record after resume",
				"session_id", sessionID, "error", err)
		}
	}
	switch next {
	case actionFinish:
		return e.complete(ctx, session, finishData)
	case actionSuspend:
		return nil
	default:
		return e.loop(ctx, session)
	}
}

// abortResumed aborts a resumed continuation. The abort releases the
// session, so the pause record must go with it or the sweeper would later
// fail out a round that already ended.
func (e *Engine) abortResumed(ctx context.Context, session *store.Session, cause error) error {
	if err := e.pauses.Clear(ctx, session.ID); err != nil && !fmerr.IsNotFound(err) {
		slog.Error("failed to clear pause record during abort",
			"session_id", session.ID, "error", err)
	}
	return e.abort(ctx, session, cause)
}

// AbandonStalePauses fails out paused rounds whose remote results never
// arrived. The awaiting calls get failed results, the episode ends with an
// error event, and the session is released so new messages work. Returns
// how many rounds were abandoned.
func (e *Engine) AbandonStalePauses(ctx context.Context, olderThan time.Duration) (int, error) {
	records, err := e.pauses.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	abandoned := 0

	for _, rec := range records {
		if rec.PausedAt.After(cutoff) {
			continue
		}

		slog.Warn("abandoning stale paused round",
			"session_id", rec.SessionID,
			"message_id", rec.MessageID,
			"paused_at", rec.PausedAt)

		msg, err := e.messages.GetMessage(ctx, rec.SessionID, rec.MessageID)
		if err != nil {
			slog.Error("stale pause refers to missing message",
				"session_id", rec.SessionID, "error", err)
			_ = e.pauses.Clear(ctx, rec.SessionID)
			continue
		}

		for _, id := range msg.AwaitingCallIDs() {
			name := ""
			for _, tc := range msg.ToolCalls {
				if tc.ID == id {
					name = tc.Name
					break
				}
			}
			msg, err = e.messages.UpsertToolResult(ctx, rec.SessionID, rec.MessageID, store.ToolResult{
				ToolCallID: id,
				ToolName:   name,
				Success:    false,
				Error:      "remote executor did not deliver a result in time",
			})
			if err != nil {
				return abandoned, err
			}
		}

		msg.IsComplete = true
		if err := e.messages.UpdateMessage(ctx, msg); err != nil {
			return abandoned, err
		}

		if err := e.pauses.Clear(ctx, rec.SessionID); err != nil {
			return abandoned, err
		}
		if err := e.iterations.Reset(ctx, rec.SessionID); err != nil {
			return abandoned, err
		}

		e.broker.Emit(push.NewEvent(push.EventEpisodeError, rec.SessionID, rec.MessageID,
			map[string]string{"error": "paused round abandoned after timeout"}))

		if err := e.state.Finish(ctx, rec.SessionID, OutcomeErrored); err != nil {
			return abandoned, err
		}
		abandoned++
	}
	return abandoned, nil
}

// checkBalance verifies affordability before the model is invoked. Unpriced
// models skip the check; they also skip billing.
func (e *Engine) checkBalance(ctx context.Context, session *store.Session, modelRef, model,
	systemPrompt string, history []provider.Message) error {

	estimated := billing.EstimateInputTokens(model, systemPrompt, history)
	err := e.ledger.CheckBalance(ctx, session.OrgID, modelRef, estimated)
	if err != nil && fmerr.HasCode(err, fmerr.CodeBillingModelUnpriced) {
		slog.Debug("model not in cost table, skipping balance check", "model_ref", modelRef)
		return nil
	}
	return err
}

// complete ends the episode normally.
func (e *Engine) complete(ctx context.Context, session *store.Session, data map[string]any) error {
	if err := e.iterations.Reset(ctx, session.ID); err != nil {
		slog.Error("failed to reset iteration counter", "session_id", session.ID, "error", err)
	}

	e.broker.Emit(push.NewEvent(push.EventEpisodeComplete, session.ID, "", data))
	return e.state.Finish(ctx, session.ID, OutcomeCompleted)
}

// cancelled ends the episode after a cooperative cancel won. The
// conversation keeps a record of it: a synthetic assistant message is
// appended so history shows where the run stopped.
func (e *Engine) cancelled(ctx context.Context, session *store.Session) error {
	if err := e.iterations.Reset(ctx, session.ID); err != nil {
		slog.Error("failed to reset iteration counter", "session_id", session.ID, "error", err)
	}

	cancelMsg := &store.Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Role:       store.MessageRoleAssistant,
		Content:    "The run was cancelled.",
		IsComplete: true,
		CreatedAt:  time.Now(),
	}
	if err := e.messages.AppendMessage(ctx, cancelMsg); err != nil {
		slog.Error("failed to persist cancellation message", "session_id", session.ID, "error", err)
	}

	slog.Info("episode cancelled", "session_id", session.ID)
	e.broker.Emit(push.NewEvent(push.EventEpisodeCancelled, session.ID, cancelMsg.ID, nil))
	return e.state.Finish(ctx, session.ID, OutcomeCancelled)
}

// abort is the single catch point for stage failures: it persists an error
// message so the conversation records what happened, emits the error event,
// and releases the session.
func (e *Engine) abort(ctx context.Context, session *store.Session, cause error) error {
	slog.Error("episode aborted",
		"session_id", session.ID,
		"error", cause)

	errMsg := &store.Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Role:       store.MessageRoleAssistant,
		Content:    fmt.Sprintf("The run failed: %v", cause),
		IsComplete: true,
		CreatedAt:  time.Now(),
	}
	if err := e.messages.AppendMessage(ctx, errMsg); err != nil {
		slog.Error("failed to persist abort message", "session_id", session.ID, "error", err)
	}

	if err := e.iterations.Reset(ctx, session.ID); err != nil {
		slog.Error("failed to reset iteration counter", "session_id", session.ID, "error", err)
	}

	e.broker.Emit(push.NewEvent(push.EventEpisodeError, session.ID, errMsg.ID,
		map[string]string{"error": cause.Error()}))

	if err := e.state.Finish(ctx, session.ID, OutcomeErrored); err != nil {
		slog.Error("failed to release session after abort", "session_id", session.ID, "error", err)
	}
	return cause
}
