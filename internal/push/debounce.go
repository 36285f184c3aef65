// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package push

import (
	"sync"
	"time"
)

// DefaultDebounceInterval is the trailing-edge delay for message.delta
// events. Streams produce chunks far faster than a UI wants repaints.
const DefaultDebounceInterval = 200 * time.Millisecond

type pendingDelta struct {
	sessionID string
	messageID string
	buf       []byte
	timer     *time.Timer
}

// Debouncer coalesces streamed text deltas into message.delta events,
// emitting at most one event per message per interval (trailing edge).
// Other event types bypass it and go straight to the broker.
type Debouncer struct {
	broker   *Broker
	interval time.Duration

	mu      sync.Mutex
	pending map[string]*pendingDelta // keyed by sessionID + "/" + messageID
	closed  bool
}

// NewDebouncer wraps a broker with delta coalescing.
func NewDebouncer(broker *Broker, interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	return &Debouncer{
		broker:   broker,
		interval: interval,
		pending:  make(map[string]*pendingDelta),
	}
}

// AppendDelta buffers a content fragment for the given message. The combined
// fragment is emitted when the interval elapses without another append
// forcing a reset, or on Flush.
func (d *Debouncer) AppendDelta(sessionID, messageID, text string) {
	if text == "" {
		return
	}
	key := sessionID + "/" + messageID

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	p, ok := d.pending[key]
	if !ok {
		p = &pendingDelta{sessionID: sessionID, messageID: messageID}
		p.timer = time.AfterFunc(d.interval, func() { d.fire(key) })
		d.pending[key] = p
	}
	p.buf = append(p.buf, text...)
}

// Flush immediately emits any buffered fragment for the message. Called at
// stream end so the tail is never stuck behind the timer.
func (d *Debouncer) Flush(sessionID, messageID string) {
	d.fire(sessionID + "/" + messageID)
}

// Discard drops any buffered fragment without emitting it. Used when a
// failed stream attempt is retracted before a retry.
func (d *Debouncer) Discard(sessionID, messageID string) {
	key := sessionID + "/" + messageID

	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Close stops all timers and drops buffered fragments.
func (d *Debouncer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
	return nil
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if !ok || len(p.buf) == 0 {
		return
	}
	d.broker.Emit(NewEvent(EventMessageDelta, p.sessionID, p.messageID,
		map[string]string{"content": string(p.buf)}))
}
