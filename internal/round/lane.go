// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// episodeTask is one queued episode entry: a fresh run from the chat
// endpoint or a continuation scheduled by the resume endpoint. The outcome
// is reported back on done.
type episodeTask struct {
	run  func(context.Context) error
	ctx  context.Context
	done chan<- error
}

// Lane is the serial executor for one session's episodes. Tasks run one at
// a time in submission order, so a new user message, a resumed
// continuation, and the sweeper can never interleave their writes to the
// same conversation; different sessions run on different lanes in parallel.
type Lane struct {
	sessionID string
	pending   chan episodeTask
	stopped   chan struct{}
	closing   chan struct{} // closed as soon as Close is called

	once sync.Once
}

// NewLane starts the executor goroutine for one session. Close it when the
// session's lane is retired.
func NewLane(sessionID string) *Lane {
	l := &Lane{
		sessionID: sessionID,
		pending:   make(chan episodeTask, 256),
		stopped:   make(chan struct{}),
		closing:   make(chan struct{}),
	}
	go l.serve()
	return l
}

// serve executes tasks until the lane closes, then drains what is already
// queued so accepted episodes still run.
func (l *Lane) serve() {
	defer close(l.stopped)
	for {
		select {
		case task := <-l.pending:
			l.runTask(task)
		case <-l.closing:
			for {
				select {
				case task := <-l.pending:
					l.runTask(task)
				default:
					return
				}
			}
		}
	}
}

// runTask executes one episode entry. A panic inside a stage must not take
// down the lane, or every later episode for the session would hang; it is
// recovered into an error result.
func (l *Lane) runTask(task episodeTask) {
	// The submitter may have given up while the task sat in the queue.
	if err := task.ctx.Err(); err != nil {
		task.done <- err
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("episode panic recovered",
					"session_id", l.sessionID,
					"panic", r,
					"stack", string(debug.Stack()))
				err = fmerr.Errorf(fmerr.CodeRoundFailure, "episode panic: %v", r)
			}
		}()
		err = task.run(task.ctx)
	}()

	task.done <- err
}

// Submit queues run on the lane and blocks until it finishes, returning its
// error. If ctx ends before the task starts, run never executes and
// ctx.Err() comes back. A closed lane rejects the submission.
func (l *Lane) Submit(ctx context.Context, run func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	task := episodeTask{run: run, ctx: ctx, done: done}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		return fmerr.New(fmerr.CodeRoundSessionInactive, "session lane is closed",
			fmerr.FieldSessionID(l.sessionID))
	case l.pending <- task:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		return fmerr.New(fmerr.CodeRoundSessionInactive, "session lane closed mid-episode",
			fmerr.FieldSessionID(l.sessionID))
	case err := <-done:
		return err
	}
}

// Close stops accepting work and waits for the executor to finish what was
// already queued. Idempotent.
func (l *Lane) Close() {
	l.once.Do(func() {
		close(l.closing)
		<-l.stopped
	})
}

// LanePool hands out one lane per session, created on first use. Safe for
// concurrent use.
type LanePool struct {
	mu    sync.Mutex
	lanes map[string]*Lane
}

// NewLanePool returns an empty pool.
func NewLanePool() *LanePool {
	return &LanePool{lanes: make(map[string]*Lane)}
}

// Get returns the session's lane, starting it if needed.
func (p *LanePool) Get(sessionID string) *Lane {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.lanes[sessionID]; ok {
		return l
	}

	l := NewLane(sessionID)
	p.lanes[sessionID] = l
	return l
}

// Close drains and retires every lane.
func (p *LanePool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range p.lanes {
		l.Close()
	}
	p.lanes = make(map[string]*Lane)
}
