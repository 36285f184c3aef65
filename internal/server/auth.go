// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth enforces a static bearer token on every route except /health.
// An empty token disables authentication entirely. Websocket clients cannot
// set headers from a browser, so the token is also accepted as the
// access_token query parameter.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented == r.Header.Get("Authorization") {
				presented = r.URL.Query().Get("access_token")
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
