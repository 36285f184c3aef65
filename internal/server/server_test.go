// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/push"
	"github.com/funmax-dev/funmax/internal/server"
	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// stubRunner fakes the round engine behind the HTTP surface.
type stubRunner struct {
	mu        sync.Mutex
	runFn     func(ctx context.Context, sessionID, content string) error
	cancelErr error
	resumeErr error

	runs     []string
	cancels  []string
	resumed  []store.ToolResult
	resumeTo string
}

func (s *stubRunner) Run(ctx context.Context, sessionID, content string) error {
	s.mu.Lock()
	s.runs = append(s.runs, sessionID+":"+content)
	fn := s.runFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, sessionID, content)
	}
	return nil
}

func (s *stubRunner) Cancel(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, sessionID)
	return s.cancelErr
}

func (s *stubRunner) Resume(_ context.Context, _, messageID string, results []store.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeTo = messageID
	s.resumed = append(s.resumed, results...)
	return s.resumeErr
}

type serverEnv struct {
	ts     *httptest.Server
	stores store.Stores
	broker *push.Broker
	runner *stubRunner
}

func newServerEnv(t *testing.T, cfg server.Config) *serverEnv {
	t.Helper()

	stores, err := store.Open(&store.Config{Backend: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	broker := push.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })

	runner := &stubRunner{}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	srv, err := server.New(cfg, server.Deps{
		Sessions: stores.Sessions(),
		Messages: stores.Messages(),
		Engine:   runner,
		Broker:   broker,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &serverEnv{ts: ts, stores: stores, broker: broker, runner: runner}
}

func (env *serverEnv) createSession(t *testing.T, id string) *store.Session {
	t.Helper()
	session := &store.Session{
		ID:        id,
		OrgID:     "org-1",
		Status:    store.SessionStatusIdle,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, env.stores.Sessions().CreateSession(context.Background(), session))
	return session
}

func (env *serverEnv) do(t *testing.T, method, path, body string, header http.Header) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, env.ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHealth(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	resp := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"ok"`)
}

func TestCreateAndGetSession(t *testing.T) {
	env := newServerEnv(t, server.Config{})

	resp := env.do(t, http.MethodPost, "/api/v1/sessions",
		`{"org_id":"org-1","agent_id":"agent-1","model_ref":"openai/gpt-4o"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created server.SessionBody
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "idle", created.Status)
	assert.Equal(t, "openai/gpt-4o", created.ModelRef)

	resp = env.do(t, http.MethodGet, "/api/v1/sessions/"+created.ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetSessionNotFound(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	resp := env.do(t, http.MethodGet, "/api/v1/sessions/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSessionValidation(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	resp := env.do(t, http.MethodPost, "/api/v1/sessions", `{"org_id":""}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	env.createSession(t, "sess-a")
	env.createSession(t, "sess-b")

	resp := env.do(t, http.MethodGet, "/api/v1/sessions?org_id=org-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Sessions []server.SessionBody `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &out))
	assert.Len(t, out.Sessions, 2)
}

func TestListMessages(t *testing.T) {
	env := newServerEnv(t, server.Config{})
	env.createSession(t, "sess-1")
	require.NoError(t, env.stores.Messages().AppendMessage(context.Background(), &store.Message{
		ID: "msg-1", SessionID: "sess-1", Role: store.MessageRoleUser,
		Content: "hi", IsComplete: true, CreatedAt: time.Now(),
	}))

	resp := env.do(t, http.MethodGet, "/api/v1/sessions/sess-1/messages", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Messages []server.MessageBody `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &out))
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)

	resp = env.do(t, http.MethodGet, "/api/v1/sessions/nope/messages", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelSession(t *testing.T) {
	t.Run("active round", func(t *testing.T) {
		env := newServerEnv(t, server.Config{})
		env.createSession(t, "sess-1")

		resp := env.do(t, http.MethodPost, "/api/v1/sessions/sess-1/cancel", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "cancelling")
		assert.Equal(t, []string{"sess-1"}, env.runner.cancels)
	})

	t.Run("nothing to cancel", func(t *testing.T) {
		env := newServerEnv(t, server.Config{})
		env.createSession(t, "sess-1")
		env.runner.cancelErr = fmerr.New(fmerr.CodeRoundSessionInactive, "no active round to cancel")

		resp := env.do(t, http.MethodPost, "/api/v1/sessions/sess-1/cancel", "", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestToolResults(t *testing.T) {
	t.Run("delivers results", func(t *testing.T) {
		env := newServerEnv(t, server.Config{})
		env.createSession(t, "sess-1")

		resp := env.do(t, http.MethodPost, "/api/v1/sessions/sess-1/messages/msg-1/tool-results",
			`{"tool_results":[{"tool_call_id":"call-1","success":true,"data":{"hits":3}}]}`, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "accepted")

		assert.Equal(t, "msg-1", env.runner.resumeTo)
		require.Len(t, env.runner.resumed, 1)
		assert.Equal(t, "call-1", env.runner.resumed[0].ToolCallID)
		assert.True(t, env.runner.resumed[0].Success)
	})

	t.Run("not paused", func(t *testing.T) {
		env := newServerEnv(t, server.Config{})
		env.runner.resumeErr = fmerr.New(fmerr.CodeRoundNotPaused, "session has no paused round")

		resp := env.do(t, http.MethodPost, "/api/v1/sessions/sess-1/messages/msg-1/tool-results",
			`{"tool_results":[{"tool_call_id":"call-1","success":true}]}`, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("correlation mismatch", func(t *testing.T) {
		env := newServerEnv(t, server.Config{})
		env.runner.resumeErr = fmerr.New(fmerr.CodeRoundResumeMismatch, "result for unknown tool call")

		resp := env.do(t, http.MethodPost, "/api/v1/sessions/sess-1/messages/msg-1/tool-results",
			`{"tool_results":[{"tool_call_id":"call-x","success":true}]}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty result list rejected", func(t *testing.T) {
		env := newServerEnv(t, server.Config{})
		resp := env.do(t, http.MethodPost, "/api/v1/sessions/sess-1/messages/msg-1/tool-results",
			`{"tool_results":[]}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestAuth(t *testing.T) {
	env := newServerEnv(t, server.Config{AuthToken: "hunter2"})
	env.createSession(t, "sess-1")

	t.Run("health is open", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing token", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sessions/sess-1", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("bearer token", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sessions/sess-1", "",
			http.Header{"Authorization": []string{"Bearer hunter2"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("query token for websocket clients", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sessions/sess-1?access_token=hunter2", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("wrong token", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sessions/sess-1", "",
			http.Header{"Authorization": []string{"Bearer wrong"}})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
