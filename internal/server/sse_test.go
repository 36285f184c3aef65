// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/push"
	"github.com/funmax-dev/funmax/internal/server"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// scriptedEpisode makes the stub runner emit a canned event sequence.
func scriptedEpisode(broker *push.Broker, eventTypes ...string) func(context.Context, string, string) error {
	return func(_ context.Context, sessionID, _ string) error {
		for _, eventType := range eventTypes {
			broker.Emit(push.NewEvent(eventType, sessionID, "msg-1", nil))
		}
		return nil
	}
}

func sseHeader() http.Header {
	return http.Header{"Accept": []string{"text/event-stream"}}
}

func TestChatStreamSSE(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	env.createSession(t, "sess-1")
	env.runner.runFn = scriptedEpisode(env.broker,
		push.EventRoundStart, push.EventMessageDelta, push.EventEpisodeComplete)

	resp := env.do(t, http.MethodPost, "/api/v1/chat/stream",
		`{"session_id":"sess-1","content":"hi"}`, sseHeader())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body := readBody(t, resp)
	assert.Contains(t, body, "event: session")
	assert.Contains(t, body, `"session_id":"sess-1"`)
	assert.Contains(t, body, "event: "+push.EventRoundStart)
	assert.Contains(t, body, "event: "+push.EventMessageDelta)
	assert.Contains(t, body, "event: "+push.EventEpisodeComplete)

	assert.Equal(t, []string{"sess-1:hi"}, env.runner.runs)
}

func TestChatStreamEndsOnPause(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	env.createSession(t, "sess-1")
	env.runner.runFn = scriptedEpisode(env.broker,
		push.EventRoundStart, push.EventRoundPaused)

	resp := env.do(t, http.MethodPost, "/api/v1/chat/stream",
		`{"session_id":"sess-1","content":"hi"}`, sseHeader())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "event: "+push.EventRoundPaused)
}

func TestChatStreamJSON(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	env.createSession(t, "sess-1")
	env.runner.runFn = scriptedEpisode(env.broker,
		push.EventRoundStart, push.EventEpisodeComplete)

	resp := env.do(t, http.MethodPost, "/api/v1/chat/stream",
		`{"session_id":"sess-1","content":"hi"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		SessionID string       `json:"session_id"`
		Events    []push.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &out))
	assert.Equal(t, "sess-1", out.SessionID)
	require.NotEmpty(t, out.Events)
	assert.Equal(t, push.EventEpisodeComplete, out.Events[len(out.Events)-1].Type)
}

func TestChatStreamCreatesSession(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	env.runner.runFn = scriptedEpisode(env.broker, push.EventEpisodeComplete)

	resp := env.do(t, http.MethodPost, "/api/v1/chat/stream",
		`{"org_id":"org-1","content":"hello"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &out))
	require.NotEmpty(t, out.SessionID)

	session, err := env.stores.Sessions().GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "org-1", session.OrgID)
}

func TestChatStreamValidation(t *testing.T) {
	env := newServerEnv(t, server.Config{})

	t.Run("missing content", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/chat/stream", `{"session_id":"sess-1"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("unknown session", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/chat/stream",
			`{"session_id":"nope","content":"hi"}`, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("no session and no org", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/chat/stream", `{"content":"hi"}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestChatStreamRunFailure(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	env.createSession(t, "sess-1")
	env.runner.runFn = func(context.Context, string, string) error {
		return fmerr.New(fmerr.CodeRoundSessionBusy, "round already active")
	}

	t.Run("sse reports inline error event", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/chat/stream",
			`{"session_id":"sess-1","content":"hi"}`, sseHeader())
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := readBody(t, resp)
		assert.Contains(t, body, "event: error")
		assert.Contains(t, body, "round already active")
	})

	t.Run("json maps the status", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/chat/stream",
			`{"session_id":"sess-1","content":"hi"}`, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestSessionEventsWebsocket(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	env.createSession(t, "sess-1")

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/v1/sessions/sess-1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return env.broker.SubscriberCount("sess-1") == 1
	}, time.Second, 5*time.Millisecond)

	env.broker.Emit(push.NewEvent(push.EventToolResult, "sess-1", "msg-1", nil))

	var event push.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, push.EventToolResult, event.Type)
	assert.Equal(t, "sess-1", event.SessionID)
}

func TestSessionEventsWebsocketUnknownSession(t *testing.T) {
	env := newServerEnv(t, server.Config{})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/v1/sessions/nope/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
