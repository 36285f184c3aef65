// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

// Package sweeper runs the periodic housekeeping jobs: purging expired KV
// entries and abandoning paused rounds whose remote results never arrived.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Abandoner fails out stale paused rounds; implemented by the round engine.
type Abandoner interface {
	AbandonStalePauses(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config tunes the sweeper.
type Config struct {
	Schedule     string        // cron spec, e.g. "@every 5m"
	AbandonAfter time.Duration // pause age before abandonment
}

// Sweeper schedules the housekeeping jobs on a cron runner.
type Sweeper struct {
	cron *cron.Cron
	kv   store.KV
	eng  Abandoner
	cfg  Config
}

// New builds a sweeper. Call Start to begin sweeping.
func New(kv store.KV, eng Abandoner, cfg Config) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = 30 * time.Minute
	}
	return &Sweeper{
		cron: cron.New(),
		kv:   kv,
		eng:  eng,
		cfg:  cfg,
	}
}

// Start registers the sweep on the configured schedule and starts the cron
// runner.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return fmerr.Wrap(err, fmerr.CodeConfigInvalidValue, "invalid sweeper schedule",
			fmerr.Field("schedule", s.cfg.Schedule))
	}

	s.cron.Start()
	slog.Info("sweeper started",
		"schedule", s.cfg.Schedule,
		"abandon_after", s.cfg.AbandonAfter)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one housekeeping pass. Failures are logged, never fatal: the
// next scheduled run simply tries again.
func (s *Sweeper) Sweep(ctx context.Context) {
	purged, err := s.kv.PurgeExpired(ctx)
	if err != nil {
		slog.Error("purging expired kv entries failed", "error", err)
	} else if purged > 0 {
		slog.Info("purged expired kv entries", "count", purged)
	}

	abandoned, err := s.eng.AbandonStalePauses(ctx, s.cfg.AbandonAfter)
	if err != nil {
		slog.Error("abandoning stale paused rounds failed", "error", err)
	} else if abandoned > 0 {
		slog.Info("abandoned stale paused rounds", "count", abandoned)
	}
}
