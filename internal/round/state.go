// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"context"

	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Outcome classifies how an episode ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeErrored   Outcome = "errored"
	OutcomePaused    Outcome = "paused"
)

// StateMachine drives session status transitions. All mutual exclusion lives
// in the store's BeginProcessing compare-and-set; this type only adds the
// legal-transition checks around it.
type StateMachine struct {
	sessions store.SessionStore
}

// NewStateMachine wraps the session store.
func NewStateMachine(sessions store.SessionStore) *StateMachine {
	return &StateMachine{sessions: sessions}
}

// BeginProcessing atomically claims the session for a new episode. Exactly
// one caller wins; the rest get CodeRoundSessionBusy.
func (s *StateMachine) BeginProcessing(ctx context.Context, sessionID string) error {
	return s.sessions.BeginProcessing(ctx, sessionID)
}

// RequestCancel flips a processing session to cancelling. The running episode
// observes the flag cooperatively; nothing is interrupted here. Cancelling an
// already-cancelling session is a no-op; cancelling an idle one is an error
// because there is nothing to cancel.
func (s *StateMachine) RequestCancel(ctx context.Context, sessionID string) error {
	status, err := s.sessions.GetStatus(ctx, sessionID)
	if err != nil {
		return err
	}

	switch status {
	case store.SessionStatusProcessing:
		return s.sessions.SetStatus(ctx, sessionID, store.SessionStatusCancelling)
	case store.SessionStatusCancelling:
		return nil
	default:
		return fmerr.New(fmerr.CodeRoundSessionInactive, "no active round to cancel",
			fmerr.FieldSessionID(sessionID),
			fmerr.Field("status", string(status)))
	}
}

// StillProcessing reports whether the episode should keep going. A session
// in cancelling (or released entirely) means the loop must stop.
func (s *StateMachine) StillProcessing(ctx context.Context, sessionID string) (bool, error) {
	status, err := s.sessions.GetStatus(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return status == store.SessionStatusProcessing, nil
}

// Cancelling reports whether a cancel has been requested.
func (s *StateMachine) Cancelling(ctx context.Context, sessionID string) (bool, error) {
	status, err := s.sessions.GetStatus(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return status == store.SessionStatusCancelling, nil
}

// Finish releases the session back to idle whatever the outcome was. The
// outcome itself is recorded by the caller (messages, push events); status
// only tracks whether a round is active.
func (s *StateMachine) Finish(ctx context.Context, sessionID string, _ Outcome) error {
	return s.sessions.SetStatus(ctx, sessionID, store.SessionStatusIdle)
}
