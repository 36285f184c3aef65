// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package push

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events.
const subscriberBuffer = 64

type subscriber struct {
	ch chan Event
}

// Broker fans session events out to subscribers. Emit never blocks.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a watcher for one session's events. The returned
// cancel function must be called to release the subscription; the channel is
// closed on cancel and on broker Close.
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*subscriber]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[sessionID]; ok {
				if _, present := set[sub]; present {
					delete(set, sub)
					close(sub.ch)
				}
				if len(set) == 0 {
					delete(b.subs, sessionID)
				}
			}
		})
	}
	return sub.ch, cancel
}

// Emit delivers an event to every subscriber of its session. Full subscriber
// buffers drop the event.
func (b *Broker) Emit(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[event.SessionID] {
		select {
		case sub.ch <- event:
		default:
			slog.Debug("dropping push event for slow subscriber",
				"session_id", event.SessionID, "type", event.Type)
		}
	}
}

// SubscriberCount reports how many watchers a session has.
func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// Close shuts the broker down, closing every subscriber channel.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sessionID, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, sessionID)
	}
	return nil
}
