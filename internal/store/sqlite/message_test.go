// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/store"
	"github.com/funmax-dev/funmax/internal/store/sqlite"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

func messageStores(t *testing.T) (*sqlite.SessionStore, *sqlite.MessageStore) {
	t.Helper()
	db := testDB(t)
	return sqlite.NewSessionStore(db), sqlite.NewMessageStore(db)
}

func TestMessageStreamingLifecycle(t *testing.T) {
	ctx := context.Background()
	ss, ms := messageStores(t)
	seedSession(t, ss, "sess-1")

	placeholder := &store.Message{
		ID:          "msg-1",
		SessionID:   "sess-1",
		Role:        store.MessageRoleAssistant,
		IsStreaming: true,
		Timing:      store.Timing{StartedAt: time.Now()},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, ms.AppendMessage(ctx, placeholder))

	placeholder.Content = "The answer is 42."
	placeholder.IsStreaming = false
	placeholder.IsComplete = true
	placeholder.FinishReason = "stop"
	placeholder.Usage = &store.Usage{InputTokens: 120, OutputTokens: 9}
	placeholder.Timing.CompletedAt = time.Now()
	require.NoError(t, ms.UpdateMessage(ctx, placeholder))

	got, err := ms.GetMessage(ctx, "sess-1", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", got.Content)
	assert.True(t, got.IsComplete)
	assert.False(t, got.IsStreaming)
	require.NotNil(t, got.Usage)
	assert.Equal(t, 120, got.Usage.InputTokens)
	assert.False(t, got.Timing.CompletedAt.IsZero())
}

func TestMessageToolCallsRoundTrip(t *testing.T) {
	ctx := context.Background()
	ss, ms := messageStores(t)
	seedSession(t, ss, "sess-1")

	msg := &store.Message{
		ID:        "msg-1",
		SessionID: "sess-1",
		Role:      store.MessageRoleAssistant,
		ToolCalls: []store.ToolCall{
			{ID: "call-1", Name: "web_search", Arguments: `{"query":"go generics"}`},
			{ID: "call-2", Name: "clock", Arguments: `{}`},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, ms.AppendMessage(ctx, msg))

	got, err := ms.GetMessage(ctx, "sess-1", "msg-1")
	require.NoError(t, err)
	require.Len(t, got.ToolCalls, 2)
	assert.Equal(t, `{"query":"go generics"}`, got.ToolCalls[0].Arguments)
	assert.False(t, got.Paired())
}

func TestMessageListOrdering(t *testing.T) {
	ctx := context.Background()
	ss, ms := messageStores(t)
	seedSession(t, ss, "sess-1")

	base := time.Now()
	for i, id := range []string{"msg-1", "msg-2", "msg-3"} {
		require.NoError(t, ms.AppendMessage(ctx, &store.Message{
			ID:        id,
			SessionID: "sess-1",
			Role:      store.MessageRoleUser,
			Content:   id,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	got, err := ms.ListMessages(ctx, "sess-1", store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "msg-1", got[0].ID)
	assert.Equal(t, "msg-3", got[2].ID)

	got, err = ms.ListMessages(ctx, "sess-1", store.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "msg-2", got[0].ID)
}

func TestUpsertToolResultIdempotent(t *testing.T) {
	ctx := context.Background()
	ss, ms := messageStores(t)
	seedSession(t, ss, "sess-1")

	require.NoError(t, ms.AppendMessage(ctx, &store.Message{
		ID:        "msg-1",
		SessionID: "sess-1",
		Role:      store.MessageRoleAssistant,
		ToolCalls: []store.ToolCall{
			{ID: "call-1", Name: "web_search", Arguments: `{"query":"x"}`},
			{ID: "call-2", Name: "clock", Arguments: `{}`},
		},
		CreatedAt: time.Now(),
	}))

	updated, err := ms.UpsertToolResult(ctx, "sess-1", "msg-1", store.ToolResult{
		ToolCallID: "call-1",
		ToolName:   "web_search",
		Success:    true,
		Data:       []byte(`{"hits":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"call-2"}, updated.AwaitingCallIDs())

	// Duplicate delivery overwrites in place.
	updated, err = ms.UpsertToolResult(ctx, "sess-1", "msg-1", store.ToolResult{
		ToolCallID: "call-1",
		ToolName:   "web_search",
		Success:    false,
		Error:      "upstream 429",
	})
	require.NoError(t, err)
	require.Len(t, updated.ToolResults, 1)
	assert.False(t, updated.ToolResults[0].Success)

	updated, err = ms.UpsertToolResult(ctx, "sess-1", "msg-1", store.ToolResult{
		ToolCallID: "call-2",
		ToolName:   "clock",
		Success:    true,
		Data:       []byte(`{"now":"2026-08-31T12:00:00Z"}`),
	})
	require.NoError(t, err)
	assert.True(t, updated.Paired())

	_, err = ms.UpsertToolResult(ctx, "sess-1", "missing", store.ToolResult{ToolCallID: "call-9"})
	assert.True(t, fmerr.HasCode(err, fmerr.CodeStoreMessageNotFound))
}
