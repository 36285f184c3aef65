// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"context"
	"encoding/json"
	"time"

	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

const signalKeyPrefix = "round:signal:"

// DefaultSignalTTL bounds how long an unconsumed completion signal survives.
const DefaultSignalTTL = 24 * time.Hour

// CompletionSignal marks that the episode should terminate after the current
// round. It is written by the terminal tool and consumed exactly once by the
// observe stage.
type CompletionSignal struct {
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// SignalStore keeps completion signals in the durable KV so a signal set
// right before a crash still ends the episode after restart. It implements
// tool.Signaller.
type SignalStore struct {
	kv  store.KV
	ttl time.Duration
}

// NewSignalStore builds a signal store. ttl <= 0 uses the default.
func NewSignalStore(kv store.KV, ttl time.Duration) *SignalStore {
	if ttl <= 0 {
		ttl = DefaultSignalTTL
	}
	return &SignalStore{kv: kv, ttl: ttl}
}

// SignalCompletion records a completion signal for the session, overwriting
// any earlier one.
func (s *SignalStore) SignalCompletion(ctx context.Context, sessionID, signalType string, params json.RawMessage) error {
	sig := CompletionSignal{SessionID: sessionID, Type: signalType, Params: params}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeRoundFailure, "encoding completion signal",
			fmerr.FieldSessionID(sessionID))
	}
	return s.kv.Set(ctx, signalKeyPrefix+sessionID, data, s.ttl)
}

// Consume returns the pending signal and clears it, or nil when none is set.
func (s *SignalStore) Consume(ctx context.Context, sessionID string) (*CompletionSignal, error) {
	key := signalKeyPrefix + sessionID

	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if fmerr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var sig CompletionSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeRoundFailure, "decoding completion signal",
			fmerr.FieldSessionID(sessionID))
	}

	if err := s.kv.Del(ctx, key); err != nil {
		return nil, err
	}
	return &sig, nil
}
