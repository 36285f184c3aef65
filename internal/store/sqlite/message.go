// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Compile-time interface check.
var _ store.MessageStore = (*MessageStore)(nil)

// MessageStore implements store.MessageStore backed by SQLite. Tool calls,
// tool results, usage, and timing are stored as JSON columns on the message
// row so the streaming placeholder can be rewritten in a single UPDATE.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore wraps an already-opened database handle.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) AppendMessage(ctx context.Context, msg *store.Message) error {
	cols, err := marshalMessageColumns(msg)
	if err != nil {
		return err
	}

	const q = `INSERT INTO messages (id, session_id, role, content, tool_calls, tool_results,
is_streaming, is_complete, finish_reason, usage, timing, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		msg.ID,
		msg.SessionID,
		string(msg.Role),
		msg.Content,
		cols.toolCalls,
		cols.toolResults,
		boolToInt(msg.IsStreaming),
		boolToInt(msg.IsComplete),
		msg.FinishReason,
		cols.usage,
		cols.timing,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "appending message",
			fmerr.FieldSessionID(msg.SessionID), fmerr.FieldMessageID(msg.ID))
	}
	return nil
}

func (s *MessageStore) UpdateMessage(ctx context.Context, msg *store.Message) error {
	cols, err := marshalMessageColumns(msg)
	if err != nil {
		return err
	}

	const q = `UPDATE messages SET content = ?, tool_calls = ?, tool_results = ?,
is_streaming = ?, is_complete = ?, finish_reason = ?, usage = ?, timing = ?
WHERE session_id = ? AND id = ?`

	result, err := s.db.ExecContext(ctx, q,
		msg.Content,
		cols.toolCalls,
		cols.toolResults,
		boolToInt(msg.IsStreaming),
		boolToInt(msg.IsComplete),
		msg.FinishReason,
		cols.usage,
		cols.timing,
		msg.SessionID,
		msg.ID,
	)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "updating message",
			fmerr.FieldSessionID(msg.SessionID), fmerr.FieldMessageID(msg.ID))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "checking rows affected",
			fmerr.FieldMessageID(msg.ID))
	}
	if rows == 0 {
		return fmerr.New(fmerr.CodeStoreMessageNotFound, "message not found",
			fmerr.FieldSessionID(msg.SessionID), fmerr.FieldMessageID(msg.ID))
	}
	return nil
}

func (s *MessageStore) GetMessage(ctx context.Context, sessionID, id string) (*store.Message, error) {
	const q = `SELECT id, session_id, role, content, tool_calls, tool_results,
is_streaming, is_complete, finish_reason, usage, timing, created_at
FROM messages WHERE session_id = ? AND id = ?`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, q, sessionID, id))
	if err == sql.ErrNoRows {
		return nil, fmerr.New(fmerr.CodeStoreMessageNotFound, "message not found",
			fmerr.FieldSessionID(sessionID), fmerr.FieldMessageID(id))
	}
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "getting message",
			fmerr.FieldSessionID(sessionID), fmerr.FieldMessageID(id))
	}
	return msg, nil
}

func (s *MessageStore) ListMessages(ctx context.Context, sessionID string, opts store.ListOpts) ([]*store.Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}

	const q = `SELECT id, session_id, role, content, tool_calls, tool_results,
is_streaming, is_complete, finish_reason, usage, timing, created_at
FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, sessionID, limit, opts.Offset)
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "listing messages",
			fmerr.FieldSessionID(sessionID))
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var msgs []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "scanning message row")
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "iterating message rows")
	}

	return msgs, nil
}

// UpsertToolResult reads, merges, and rewrites tool_results inside one
// transaction so concurrent deliveries for different call ids cannot lose
// each other's writes.
func (s *MessageStore) UpsertToolResult(ctx context.Context, sessionID, messageID string, result store.ToolResult) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "beginning tool-result tx",
			fmerr.FieldMessageID(messageID))
	}
	defer tx.Rollback() //nolint:errcheck

	const sel = `SELECT id, session_id, role, content, tool_calls, tool_results,
is_streaming, is_complete, finish_reason, usage, timing, created_at
FROM messages WHERE session_id = ? AND id = ?`

	msg, err := scanMessage(tx.QueryRowContext(ctx, sel, sessionID, messageID))
	if err == sql.ErrNoRows {
		return nil, fmerr.New(fmerr.CodeStoreMessageNotFound, "message not found",
			fmerr.FieldSessionID(sessionID), fmerr.FieldMessageID(messageID))
	}
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "loading message for tool result",
			fmerr.FieldMessageID(messageID))
	}

	replaced := false
	for i, existing := range msg.ToolResults {
		if existing.ToolCallID == result.ToolCallID {
			msg.ToolResults[i] = result
			replaced = true
			break
		}
	}
	if !replaced {
		msg.ToolResults = append(msg.ToolResults, result)
	}

	resultsJSON, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "marshalling tool results",
			fmerr.FieldMessageID(messageID))
	}

	const upd = `UPDATE messages SET tool_results = ? WHERE session_id = ? AND id = ?`
	if _, err := tx.ExecContext(ctx, upd, string(resultsJSON), sessionID, messageID); err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "writing tool result",
			fmerr.FieldMessageID(messageID))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "committing tool result",
			fmerr.FieldMessageID(messageID))
	}
	return msg, nil
}

// ---------- row marshalling ----------

type messageColumns struct {
	toolCalls   string
	toolResults string
	usage       string
	timing      string
}

func marshalMessageColumns(msg *store.Message) (messageColumns, error) {
	cols := messageColumns{toolCalls: "[]", toolResults: "[]", usage: "", timing: "{}"}

	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return cols, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "marshalling tool calls",
				fmerr.FieldMessageID(msg.ID))
		}
		cols.toolCalls = string(b)
	}
	if len(msg.ToolResults) > 0 {
		b, err := json.Marshal(msg.ToolResults)
		if err != nil {
			return cols, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "marshalling tool results",
				fmerr.FieldMessageID(msg.ID))
		}
		cols.toolResults = string(b)
	}
	if msg.Usage != nil {
		b, err := json.Marshal(msg.Usage)
		if err != nil {
			return cols, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "marshalling usage",
				fmerr.FieldMessageID(msg.ID))
		}
		cols.usage = string(b)
	}
	b, err := json.Marshal(msg.Timing)
	if err != nil {
		return cols, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "marshalling timing",
			fmerr.FieldMessageID(msg.ID))
	}
	cols.timing = string(b)

	return cols, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*store.Message, error) {
	var msg store.Message
	var toolCalls, toolResults, usage, timing, createdAt string
	var isStreaming, isComplete int

	if err := row.Scan(
		&msg.ID,
		&msg.SessionID,
		&msg.Role,
		&msg.Content,
		&toolCalls,
		&toolResults,
		&isStreaming,
		&isComplete,
		&msg.FinishReason,
		&usage,
		&timing,
		&createdAt,
	); err != nil {
		return nil, err
	}

	msg.IsStreaming = isStreaming != 0
	msg.IsComplete = isComplete != 0
	msg.CreatedAt = parseTime(createdAt)

	if toolCalls != "" && toolCalls != "[]" {
		if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
			return nil, err
		}
	}
	if toolResults != "" && toolResults != "[]" {
		if err := json.Unmarshal([]byte(toolResults), &msg.ToolResults); err != nil {
			return nil, err
		}
	}
	if usage != "" {
		msg.Usage = &store.Usage{}
		if err := json.Unmarshal([]byte(usage), msg.Usage); err != nil {
			return nil, err
		}
	}
	if timing != "" && timing != "{}" {
		if err := json.Unmarshal([]byte(timing), &msg.Timing); err != nil {
			return nil, err
		}
	}

	return &msg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
