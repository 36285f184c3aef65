// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package sweeper_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/store"
	"github.com/funmax-dev/funmax/internal/sweeper"
)

type stubAbandoner struct {
	mu    sync.Mutex
	calls int
	last  time.Duration
	n     int
}

func (s *stubAbandoner) AbandonStalePauses(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = olderThan
	return s.n, nil
}

func (s *stubAbandoner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func openKV(t *testing.T) store.KV {
	t.Helper()
	stores, err := store.Open(&store.Config{Backend: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })
	return stores.KV()
}

func TestSweepPurgesAndAbandons(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)

	require.NoError(t, kv.Set(ctx, "stale", []byte("x"), time.Millisecond))
	require.NoError(t, kv.Set(ctx, "live", []byte("y"), time.Hour))
	time.Sleep(10 * time.Millisecond)

	eng := &stubAbandoner{n: 2}
	s := sweeper.New(kv, eng, sweeper.Config{AbandonAfter: 15 * time.Minute})
	s.Sweep(ctx)

	assert.Equal(t, 1, eng.callCount())
	assert.Equal(t, 15*time.Minute, eng.last)

	_, err := kv.Get(ctx, "live")
	assert.NoError(t, err)
	_, err = kv.Get(ctx, "stale")
	assert.Error(t, err)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := sweeper.New(openKV(t), &stubAbandoner{}, sweeper.Config{Schedule: "not a schedule"})
	require.Error(t, s.Start())
}

func TestStartRunsOnSchedule(t *testing.T) {
	eng := &stubAbandoner{}
	s := sweeper.New(openKV(t), eng, sweeper.Config{Schedule: "@every 10ms"})
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return eng.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}
