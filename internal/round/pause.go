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

const (
	pauseKeyPrefix = "round:pause:"
	pauseIndexKey  = "round:pause-index"
)

// DefaultPauseTTL is how long a paused round waits for its remote tool
// results before the sweeper abandons it. The session itself stays usable
// afterwards.
const DefaultPauseTTL = 30 * time.Minute

// pauseIndexTTL keeps the index alive well past any individual record.
const pauseIndexTTL = 7 * 24 * time.Hour

// PauseRecord is the persisted state of a round suspended on remote tool
// calls. It carries everything needed to re-enter the observe stage after
// the results arrive, including across a process restart.
type PauseRecord struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Round     int64     `json:"round"`
	Awaiting  []string  `json:"awaiting"` // tool call ids still unanswered
	ModelRef  string    `json:"model_ref"`
	PausedAt  time.Time `json:"paused_at"`
}

// PauseStore keeps pause records in the durable KV, one per session, plus a
// JSON index of paused session ids so the sweeper can enumerate them (the KV
// has no key listing).
type PauseStore struct {
	kv  store.KV
	ttl time.Duration
}

// NewPauseStore builds a pause store. ttl <= 0 uses the default.
func NewPauseStore(kv store.KV, ttl time.Duration) *PauseStore {
	if ttl <= 0 {
		ttl = DefaultPauseTTL
	}
	return &PauseStore{kv: kv, ttl: ttl}
}

// TTL returns the configured record lifetime.
func (p *PauseStore) TTL() time.Duration { return p.ttl }

// Save persists the record, replacing any earlier pause for the session.
func (p *PauseStore) Save(ctx context.Context, rec *PauseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeRoundFailure, "encoding pause record",
			fmerr.FieldSessionID(rec.SessionID))
	}
	if err := p.kv.Set(ctx, pauseKeyPrefix+rec.SessionID, data, p.ttl); err != nil {
		return err
	}
	return p.addToIndex(ctx, rec.SessionID)
}

// Get loads the session's pause record. A session that is not paused yields
// CodeRoundNotPaused.
func (p *PauseStore) Get(ctx context.Context, sessionID string) (*PauseRecord, error) {
	data, err := p.kv.Get(ctx, pauseKeyPrefix+sessionID)
	if err != nil {
		if fmerr.IsNotFound(err) {
			return nil, fmerr.New(fmerr.CodeRoundNotPaused, "session has no paused round",
				fmerr.FieldSessionID(sessionID))
		}
		return nil, err
	}

	var rec PauseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeRoundFailure, "decoding pause record",
			fmerr.FieldSessionID(sessionID))
	}
	return &rec, nil
}

// Clear removes the session's pause record and its index entry.
func (p *PauseStore) Clear(ctx context.Context, sessionID string) error {
	if err := p.kv.Del(ctx, pauseKeyPrefix+sessionID); err != nil {
		return err
	}
	return p.removeFromIndex(ctx, sessionID)
}

// List returns all live pause records. Sessions whose record has expired out
// from under the index are dropped from it as a side effect.
func (p *PauseStore) List(ctx context.Context) ([]*PauseRecord, error) {
	ids, err := p.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	var records []*PauseRecord
	var live []string
	for _, id := range ids {
		rec, err := p.Get(ctx, id)
		if err != nil {
			if fmerr.HasCode(err, fmerr.CodeRoundNotPaused) {
				continue // expired; drop from index below
			}
			return nil, err
		}
		records = append(records, rec)
		live = append(live, id)
	}

	if len(live) != len(ids) {
		if err := p.saveIndex(ctx, live); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (p *PauseStore) loadIndex(ctx context.Context) ([]string, error) {
	data, err := p.kv.Get(ctx, pauseIndexKey)
	if err != nil {
		if fmerr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeRoundFailure, "decoding pause index")
	}
	return ids, nil
}

func (p *PauseStore) saveIndex(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return p.kv.Del(ctx, pauseIndexKey)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeRoundFailure, "encoding pause index")
	}
	return p.kv.Set(ctx, pauseIndexKey, data, pauseIndexTTL)
}

func (p *PauseStore) addToIndex(ctx context.Context, sessionID string) error {
	ids, err := p.loadIndex(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == sessionID {
			return nil
		}
	}
	return p.saveIndex(ctx, append(ids, sessionID))
}

func (p *PauseStore) removeFromIndex(ctx context.Context, sessionID string) error {
	ids, err := p.loadIndex(ctx)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, id := range ids {
		if id != sessionID {
			filtered = append(filtered, id)
		}
	}
	return p.saveIndex(ctx, filtered)
}
