// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import "context"

// ContinueEpisode drives the post-pause continuation synchronously, letting
// tests exercise it without the detached goroutine Resume schedules.
func (e *Engine) ContinueEpisode(ctx context.Context, sessionID, messageID string) error {
	return e.continueEpisode(ctx, sessionID, messageID)
}
