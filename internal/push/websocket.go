// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package push

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// Feed serves a session's event stream over a websocket.
type Feed struct {
	broker   *Broker
	upgrader websocket.Upgrader
}

// NewFeed builds a websocket feed over the broker.
func NewFeed(broker *Broker) *Feed {
	return &Feed{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the CORS middleware in
			// front of this handler.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeSession upgrades the request and streams the session's events until
// the client disconnects.
func (f *Feed) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Debug("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close() //nolint:errcheck // nothing actionable on close failure

	events, cancel := f.broker.Subscribe(sessionID)
	defer cancel()

	// Reader goroutine: consume control frames and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("websocket write failed, dropping subscriber",
					"session_id", sessionID, "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
