// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package server

import (
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

func (s *Server) registerEventsRoute() {
	s.router.Get("/api/v1/sessions/{id}/events", s.handleEvents)

	// Raw chi route for the websocket upgrade; the manual entry documents it.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "session-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}/events",
		Summary:     "Subscribe to a session's push events over websocket",
		Description: "Upgrades to a websocket and streams round lifecycle events (round.start, message.delta, tool.result, ...) as JSON frames.",
		Tags:        []string{"sessions"},
		Parameters: []*huma.Param{
			{Name: "id", In: "path", Required: true, Schema: &huma.Schema{Type: "string"}},
		},
		Responses: map[string]*huma.Response{
			"101": {Description: "Switching protocols"},
			"404": {Description: "Session not found"},
		},
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if _, err := s.deps.Sessions.GetSession(r.Context(), sessionID); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), fmerr.HTTPStatus(err))
		return
	}

	s.feed.ServeSession(w, r, sessionID)
}
