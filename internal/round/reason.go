// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/funmax-dev/funmax/internal/provider"
	"github.com/funmax-dev/funmax/internal/push"
	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// failoverRouter is implemented by routers that can skip already-tried
// providers when retrying a failed stream.
type failoverRouter interface {
	RouteExcluding(ctx context.Context, orgID, modelRef string, exclude []string) (provider.Provider, string, error)
}

// reason runs one streaming model call. It persists a streaming placeholder
// first, folds deltas into it, and finalizes content, tool calls and usage
// when the stream ends. IsComplete stays false; the observe stage owns that
// bit. Transient stream failures retract what was pushed and retry with a
// fresh stream up to MaxStreamRetries times.
func (e *Engine) reason(ctx context.Context, session *store.Session, history []provider.Message,
	systemPrompt string, prov provider.Provider, model string) (*store.Message, error) {

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StreamTimeout)
	defer cancel()

	msg := &store.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Role:        store.MessageRoleAssistant,
		IsStreaming: true,
		Timing:      store.Timing{StartedAt: time.Now()},
		CreatedAt:   time.Now(),
	}
	if err := e.messages.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	req := provider.ChatRequest{
		Model:        model,
		Messages:     history,
		Tools:        e.tools.Definitions(),
		SystemPrompt: systemPrompt,
	}

	tried := []string{}
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxStreamRetries; attempt++ {
		if attempt > 0 {
			// Cancellation is checked before every retry, not just before
			// the round: a cancel during a broken stream must not respawn it.
			active, err := e.state.StillProcessing(ctx, session.ID)
			if err != nil {
				return nil, err
			}
			if !active {
				return nil, fmerr.New(fmerr.CodeRoundSessionInactive,
					"session no longer active, aborting stream retry",
					fmerr.FieldSessionID(session.ID))
			}

			select {
			case <-time.After(e.cfg.StreamRetryDelay):
			case <-ctx.Done():
				return nil, e.streamTimeout(ctx, session.ID)
			}

			// Prefer a provider we have not tried yet; fall back to
			// retrying the same one when nothing else can serve the ref.
			if fr, ok := e.router.(failoverRouter); ok {
				if p, m, rerr := fr.RouteExcluding(ctx, session.OrgID, session.ModelRef, tried); rerr == nil {
					prov, model = p, m
					req.Model = model
				}
			}
		}
		tried = append(tried, prov.Name())

		done, err := e.consumeStream(ctx, session, msg, prov, req)
		if err == nil && done {
			return msg, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, e.streamTimeout(ctx, session.ID)
		}

		slog.Warn("stream attempt failed, retracting partial output",
			"session_id", session.ID,
			"message_id", msg.ID,
			"provider", prov.Name(),
			"attempt", attempt,
			"error", err)

		// Retract what watchers saw before the retry re-streams it.
		e.debouncer.Discard(session.ID, msg.ID)
		e.broker.Emit(push.NewEvent(push.EventMessageRetract, session.ID, msg.ID, nil))
	}

	return nil, fmerr.Wrap(lastErr, fmerr.CodeProviderStreamExhausted, "all stream attempts failed",
		fmerr.FieldSessionID(session.ID),
		fmerr.Field("attempts", e.cfg.MaxStreamRetries+1))
}

// consumeStream opens one stream and folds it into msg. Returns done=true
// when the stream finished cleanly and the message was finalized.
func (e *Engine) consumeStream(ctx context.Context, session *store.Session, msg *store.Message,
	prov provider.Provider, req provider.ChatRequest) (bool, error) {

	events, err := prov.Chat(ctx, req)
	if err != nil {
		return false, fmerr.Wrap(err, fmerr.CodeProviderStreamTransient, "opening stream",
			fmerr.FieldProvider(prov.Name()))
	}

	var content strings.Builder
	acc := NewAccumulator()
	var usage store.Usage
	finishReason := ""
	firstToken := time.Time{}

	for event := range events {
		switch event.Type {
		case provider.EventTypeTextDelta:
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			content.WriteString(event.Text)
			e.debouncer.AppendDelta(session.ID, msg.ID, event.Text)

		case provider.EventTypeToolCallDelta:
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			if event.ToolDelta != nil {
				acc.Add(*event.ToolDelta)
			}

		case provider.EventTypeUsage:
			if event.Usage != nil {
				usage.Add(store.Usage{
					InputTokens:  event.Usage.InputTokens,
					OutputTokens: event.Usage.OutputTokens,
				})
			}

		case provider.EventTypeDone:
			if event.FinishReason != "" {
				finishReason = event.FinishReason
			}

			msg.Content = content.String()
			msg.ToolCalls = acc.Calls()
			msg.FinishReason = finishReason
			msg.IsStreaming = false
			if usage != (store.Usage{}) {
				msg.Usage = &usage
			}
			if !firstToken.IsZero() {
				msg.Timing.FirstTokenAt = firstToken
			}
			msg.Timing.CompletedAt = time.Now()

			if err := e.messages.UpdateMessage(ctx, msg); err != nil {
				return false, err
			}
			e.debouncer.Flush(session.ID, msg.ID)
			return true, nil

		case provider.EventTypeError:
			return false, fmerr.New(fmerr.CodeProviderStreamTransient, event.Error,
				fmerr.FieldProvider(prov.Name()))
		}
	}

	// Channel closed without a done event: the stream broke mid-flight.
	return false, fmerr.New(fmerr.CodeProviderStreamTransient, "stream ended without completion",
		fmerr.FieldProvider(prov.Name()))
}

func (e *Engine) streamTimeout(ctx context.Context, sessionID string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmerr.New(fmerr.CodeRoundStreamTimeout, "stream wall-clock timeout exceeded",
			fmerr.FieldSessionID(sessionID))
	}
	return ctx.Err()
}
