// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"context"
	"time"

	"github.com/funmax-dev/funmax/internal/store"
)

const iterationKeyPrefix = "round:iter:"

// DefaultIterationTTL bounds how long an abandoned counter lingers; a
// healthy episode resets it explicitly at the end.
const DefaultIterationTTL = 24 * time.Hour

// IterationCounter is the durable per-session round counter. It lives in the
// KV store so the cap survives a process restart mid-episode.
type IterationCounter struct {
	kv  store.KV
	ttl time.Duration
}

// NewIterationCounter builds a counter over the KV store. ttl <= 0 uses the
// default.
func NewIterationCounter(kv store.KV, ttl time.Duration) *IterationCounter {
	if ttl <= 0 {
		ttl = DefaultIterationTTL
	}
	return &IterationCounter{kv: kv, ttl: ttl}
}

// Next atomically increments the session's counter and returns the new
// value, starting at 1 for a fresh or expired key.
func (c *IterationCounter) Next(ctx context.Context, sessionID string) (int64, error) {
	return c.kv.Incr(ctx, iterationKeyPrefix+sessionID, c.ttl)
}

// Reset clears the counter at episode end so the next episode starts from
// zero.
func (c *IterationCounter) Reset(ctx context.Context, sessionID string) error {
	return c.kv.Del(ctx, iterationKeyPrefix+sessionID)
}
