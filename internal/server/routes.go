// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Create a session",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List sessions for an organization",
		Tags:        []string{"sessions"},
	}, s.handleListSessions)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get session details",
		Tags:        []string{"sessions"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}/messages",
		Summary:     "List session messages",
		Tags:        []string{"sessions"},
	}, s.handleListMessages)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancel-session",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/cancel",
		Summary:     "Request cooperative cancellation of the active round",
		Tags:        []string{"rounds"},
	}, s.handleCancelSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "deliver-tool-results",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/messages/{messageId}/tool-results",
		Summary:     "Deliver remote tool results into a paused round",
		Tags:        []string{"rounds"},
	}, s.handleToolResults)
}

// humaError maps a classified error onto the matching HTTP status.
func humaError(err error) error {
	return huma.NewError(fmerr.HTTPStatus(err), err.Error())
}

// --- wire types ---

// SessionBody is the wire shape of a session.
type SessionBody struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	ModelRef  string    `json:"model_ref,omitempty" doc:"provider/model, empty uses the configured default"`
	Status    string    `json:"status" enum:"idle,processing,cancelling"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func sessionBody(session *store.Session) SessionBody {
	return SessionBody{
		ID:        session.ID,
		OrgID:     session.OrgID,
		AgentID:   session.AgentID,
		ModelRef:  session.ModelRef,
		Status:    string(session.Status),
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
}

// MessageBody is the wire shape of a message.
type MessageBody struct {
	ID           string             `json:"id"`
	Role         string             `json:"role"`
	Content      string             `json:"content,omitempty"`
	ToolCalls    []store.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults  []store.ToolResult `json:"tool_results,omitempty"`
	IsStreaming  bool               `json:"is_streaming,omitempty"`
	IsComplete   bool               `json:"is_complete"`
	FinishReason string             `json:"finish_reason,omitempty"`
	Usage        *store.Usage       `json:"usage,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

func messageBody(msg *store.Message) MessageBody {
	return MessageBody{
		ID:           msg.ID,
		Role:         string(msg.Role),
		Content:      msg.Content,
		ToolCalls:    msg.ToolCalls,
		ToolResults:  msg.ToolResults,
		IsStreaming:  msg.IsStreaming,
		IsComplete:   msg.IsComplete,
		FinishReason: msg.FinishReason,
		Usage:        msg.Usage,
		CreatedAt:    msg.CreatedAt,
	}
}

type createSessionInput struct {
	Body struct {
		OrgID    string `json:"org_id" minLength:"1" doc:"Owning organization"`
		AgentID  string `json:"agent_id,omitempty"`
		ModelRef string `json:"model_ref,omitempty" doc:"provider/model override"`
	}
}
type createSessionOutput struct {
	Body SessionBody
}

type listSessionsInput struct {
	OrgID  string `query:"org_id" required:"true" doc:"Owning organization"`
	Limit  int    `query:"limit" default:"50" maximum:"500"`
	Offset int    `query:"offset"`
}
type listSessionsOutput struct {
	Body struct {
		Sessions []SessionBody `json:"sessions"`
	}
}

type sessionIDInput struct {
	ID string `path:"id"`
}
type getSessionOutput struct {
	Body SessionBody
}

type listMessagesInput struct {
	ID     string `path:"id"`
	Limit  int    `query:"limit" default:"100" maximum:"1000"`
	Offset int    `query:"offset"`
}
type listMessagesOutput struct {
	Body struct {
		Messages []MessageBody `json:"messages"`
	}
}

type cancelOutput struct {
	Body struct {
		Status string `json:"status" example:"cancelling"`
	}
}

type toolResultsInput struct {
	ID        string `path:"id"`
	MessageID string `path:"messageId"`
	Body      struct {
		ToolResults []ToolResultBody `json:"tool_results" minItems:"1"`
	}
}

// ToolResultBody is one inbound remote tool result.
type ToolResultBody struct {
	ToolCallID string          `json:"tool_call_id" minLength:"1"`
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
}

type toolResultsOutput struct {
	Body struct {
		Status string `json:"status" example:"accepted"`
	}
}

// --- handlers ---

func (s *Server) handleCreateSession(ctx context.Context, input *createSessionInput) (*createSessionOutput, error) {
	now := time.Now()
	session := &store.Session{
		ID:        uuid.NewString(),
		OrgID:     input.Body.OrgID,
		AgentID:   input.Body.AgentID,
		ModelRef:  input.Body.ModelRef,
		Status:    store.SessionStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Sessions.CreateSession(ctx, session); err != nil {
		return nil, humaError(err)
	}
	return &createSessionOutput{Body: sessionBody(session)}, nil
}

func (s *Server) handleListSessions(ctx context.Context, input *listSessionsInput) (*listSessionsOutput, error) {
	sessions, err := s.deps.Sessions.ListSessions(ctx, input.OrgID, store.ListOpts{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, humaError(err)
	}

	out := &listSessionsOutput{}
	out.Body.Sessions = make([]SessionBody, 0, len(sessions))
	for _, session := range sessions {
		out.Body.Sessions = append(out.Body.Sessions, sessionBody(session))
	}
	return out, nil
}

func (s *Server) handleGetSession(ctx context.Context, input *sessionIDInput) (*getSessionOutput, error) {
	session, err := s.deps.Sessions.GetSession(ctx, input.ID)
	if err != nil {
		return nil, humaError(err)
	}
	return &getSessionOutput{Body: sessionBody(session)}, nil
}

func (s *Server) handleListMessages(ctx context.Context, input *listMessagesInput) (*listMessagesOutput, error) {
	if _, err := s.deps.Sessions.GetSession(ctx, input.ID); err != nil {
		return nil, humaError(err)
	}

	msgs, err := s.deps.Messages.ListMessages(ctx, input.ID, store.ListOpts{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, humaError(err)
	}

	out := &listMessagesOutput{}
	out.Body.Messages = make([]MessageBody, 0, len(msgs))
	for _, msg := range msgs {
		out.Body.Messages = append(out.Body.Messages, messageBody(msg))
	}
	return out, nil
}

func (s *Server) handleCancelSession(ctx context.Context, input *sessionIDInput) (*cancelOutput, error) {
	if err := s.deps.Engine.Cancel(ctx, input.ID); err != nil {
		return nil, humaError(err)
	}
	out := &cancelOutput{}
	out.Body.Status = string(store.SessionStatusCancelling)
	return out, nil
}

func (s *Server) handleToolResults(ctx context.Context, input *toolResultsInput) (*toolResultsOutput, error) {
	results := make([]store.ToolResult, 0, len(input.Body.ToolResults))
	for _, r := range input.Body.ToolResults {
		results = append(results, store.ToolResult{
			ToolCallID: r.ToolCallID,
			Success:    r.Success,
			Data:       r.Data,
			Error:      r.Error,
			Message:    r.Message,
		})
	}

	if err := s.deps.Engine.Resume(ctx, input.ID, input.MessageID, results); err != nil {
		return nil, humaError(err)
	}

	out := &toolResultsOutput{}
	out.Body.Status = "accepted"
	return out, nil
}
