// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/funmax-dev/funmax/internal/push"
	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// ChatStreamRequest is the request body for the streaming chat endpoint.
type ChatStreamRequest struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
	OrgID     string `json:"org_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	ModelRef  string `json:"model_ref,omitempty"`
}

func (s *Server) registerStreamRoute() {
	s.router.Post("/api/v1/chat/stream", s.handleChatStream)

	// The streaming handler needs raw http.ResponseWriter access, so it
	// cannot use huma's standard handler signature. The chi route above does
	// the work; this manual entry keeps the OpenAPI spec complete.
	minContentLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat/stream",
		Summary:     "Send a message and stream the round events",
		Description: "Runs one episode and streams its lifecycle events. Set Accept: text/event-stream for SSE; otherwise the events are collected into a JSON array. Omitting session_id creates a new session from org_id.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"content"},
						Properties: map[string]*huma.Schema{
							"content": {
								Type:        "string",
								MinLength:   &minContentLen,
								Description: "User message content",
							},
							"session_id": {
								Type:        "string",
								Description: "Existing session to continue",
							},
							"org_id": {
								Type:        "string",
								Description: "Owning organization when creating a session",
							},
							"agent_id": {Type: "string"},
							"model_ref": {
								Type:        "string",
								Description: "provider/model override for a new session",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Round event stream (SSE or JSON depending on Accept header)",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"},
					},
					"application/json": {
						Schema: &huma.Schema{
							Type: "object",
							Properties: map[string]*huma.Schema{
								"session_id": {Type: "string"},
								"events": {
									Type:  "array",
									Items: &huma.Schema{Type: "object"},
								},
							},
						},
					},
				},
			},
			"404": {Description: "Session not found"},
			"409": {Description: "Session already has an active round"},
			"422": {Description: "Validation error"},
		},
	})
}

// terminalEvent reports whether the event ends the stream. A paused round is
// terminal for the HTTP exchange: the session continues via the tool-results
// endpoint.
func terminalEvent(eventType string) bool {
	switch eventType {
	case push.EventEpisodeComplete, push.EventEpisodeCancelled, push.EventEpisodeError, push.EventRoundPaused:
		return true
	}
	return false
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, `{"error":"content is required"}`, http.StatusUnprocessableEntity)
		return
	}

	session, err := s.resolveSession(r.Context(), &req)
	if err != nil {
		status := fmerr.HTTPStatus(err)
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), status)
		return
	}

	events, cancel := s.deps.Broker.Subscribe(session.ID)
	defer cancel()

	// The episode must not die with the HTTP request: cancellation is a
	// deliberate act through the cancel endpoint, not a dropped connection.
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.deps.Engine.Run(context.WithoutCancel(r.Context()), session.ID, req.Content)
	}()

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamSSE(w, r, session.ID, events, runErr)
		return
	}
	s.streamJSON(w, session.ID, events, runErr)
}

// resolveSession loads the target session, creating one when the request
// carries no session id.
func (s *Server) resolveSession(ctx context.Context, req *ChatStreamRequest) (*store.Session, error) {
	if req.SessionID != "" {
		return s.deps.Sessions.GetSession(ctx, req.SessionID)
	}

	if req.OrgID == "" {
		return nil, fmerr.New(fmerr.CodeRoundInvalidInput, "org_id is required when session_id is not set")
	}

	now := time.Now()
	session := &store.Session{
		ID:        uuid.NewString(),
		OrgID:     req.OrgID,
		AgentID:   req.AgentID,
		ModelRef:  req.ModelRef,
		Status:    store.SessionStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, sessionID string,
	events <-chan push.Event, runErr <-chan error) {

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	write := func(eventType string, payload any) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	// The first frame tells the client which session it is watching, matters
	// when the session was created by this request.
	if !write("session", map[string]string{"session_id": sessionID}) {
		return
	}

	var drainDeadline <-chan time.Time
	for {
		select {
		case event := <-events:
			if !write(event.Type, event) {
				return
			}
			if terminalEvent(event.Type) {
				return
			}
		case err := <-runErr:
			if err != nil {
				// Pre-episode failures (busy session, unknown session) never
				// produce push events, so the error is reported inline.
				write("error", map[string]any{
					"error":  err.Error(),
					"status": fmerr.HTTPStatus(err),
				})
				return
			}
			// Episode finished; give the buffered terminal event a moment to
			// arrive, then stop waiting.
			runErr = nil
			drainDeadline = time.After(2 * time.Second)
		case <-drainDeadline:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) streamJSON(w http.ResponseWriter, sessionID string,
	events <-chan push.Event, runErr <-chan error) {

	var collected []push.Event
	var failure error
	var drainDeadline <-chan time.Time

loop:
	for {
		select {
		case event := <-events:
			collected = append(collected, event)
			if terminalEvent(event.Type) {
				break loop
			}
		case err := <-runErr:
			if err != nil {
				failure = err
				break loop
			}
			runErr = nil
			drainDeadline = time.After(2 * time.Second)
		case <-drainDeadline:
			break loop
		}
	}

	if failure != nil && len(collected) == 0 {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, failure.Error()), fmerr.HTTPStatus(failure))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		SessionID string       `json:"session_id"`
		Events    []push.Event `json:"events"`
	}{SessionID: sessionID, Events: collected}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"encoding response"}`, http.StatusInternalServerError)
	}
}
