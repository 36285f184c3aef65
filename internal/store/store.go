// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package store

import (
	"context"
	"time"
)

// SessionStore manages session rows and the status compare-and-set that
// enforces at most one active round per session.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	ListSessions(ctx context.Context, orgID string, opts ListOpts) ([]*Session, error)

	// BeginProcessing atomically flips an idle session to processing.
	// Returns CodeRoundSessionBusy if the session is already processing or
	// cancelling. This is the mutual-exclusion primitive: it must be a
	// single check-and-set against the backing store, never a read followed
	// by a write.
	BeginProcessing(ctx context.Context, id string) error

	// SetStatus unconditionally sets the session status.
	SetStatus(ctx context.Context, id string, status SessionStatus) error

	// GetStatus returns the current status without loading the full row.
	GetStatus(ctx context.Context, id string) (SessionStatus, error)
}

// MessageStore manages conversation messages, including the streaming
// placeholder lifecycle and idempotent tool-result delivery.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	UpdateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, sessionID, id string) (*Message, error)
	ListMessages(ctx context.Context, sessionID string, opts ListOpts) ([]*Message, error)

	// UpsertToolResult writes a tool result onto the message, keyed by
	// ToolCallID. Delivering the same id twice overwrites the earlier entry.
	// The updated message is returned so callers can check result coverage
	// without a second read.
	UpsertToolResult(ctx context.Context, sessionID, messageID string, result ToolResult) (*Message, error)
}

// KV is a durable key-value store with per-key TTL. It backs the iteration
// counter, completion signals, and paused-round records so they survive
// process restarts.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	// Incr atomically increments the integer at key and returns the new
	// value, creating the key at 1 with the given TTL if absent. Expired
	// keys count as absent.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// PurgeExpired removes expired keys and returns how many were deleted.
	PurgeExpired(ctx context.Context) (int, error)
}

// BillingStore manages prepaid balances and the ledger of billed calls.
type BillingStore interface {
	GetAccount(ctx context.Context, orgID string) (*Account, error)

	// Credit adds funds to the account, creating it if absent.
	Credit(ctx context.Context, orgID string, amountMicroUSD int64) error

	// Debit atomically subtracts from the balance. The balance may go
	// negative: the round engine checks affordability before the model is
	// invoked, and a post-hoc debit must never fail the round.
	Debit(ctx context.Context, orgID string, amountMicroUSD int64) error

	AppendLedger(ctx context.Context, entry *LedgerEntry) error
	ListLedger(ctx context.Context, orgID string, opts ListOpts) ([]*LedgerEntry, error)
}
