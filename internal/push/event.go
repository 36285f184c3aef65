// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

// Package push delivers best-effort realtime events to session watchers.
// Delivery is fire-and-forget: a slow or absent subscriber never blocks the
// round engine, it just misses events.
package push

import (
	"encoding/json"
	"time"
)

// Event types emitted over a session's feed.
const (
	EventRoundStart       = "round.start"
	EventMessageDelta     = "message.delta"
	EventMessageRetract   = "message.retract"
	EventToolStart        = "tool.start"
	EventToolResult       = "tool.result"
	EventRoundPaused      = "round.paused"
	EventEpisodeComplete  = "episode.complete"
	EventEpisodeCancelled = "episode.cancelled"
	EventEpisodeError     = "episode.error"
)

// Event is a single push notification scoped to a session.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	MessageID string          `json:"message_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

// NewEvent builds an event with the payload JSON-encoded. Marshal failures
// produce an event without data; push is advisory, never load-bearing.
func NewEvent(eventType, sessionID, messageID string, payload any) Event {
	var data json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			data = b
		}
	}
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		MessageID: messageID,
		Data:      data,
		At:        time.Now(),
	}
}
