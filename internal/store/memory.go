// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// MemoryStores is an in-process implementation of every store interface.
// It backs the "memory" storage backend and the test suites. All methods
// are safe for concurrent use.
type MemoryStores struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]*Message // sessionID → ordered messages
	kv       map[string]memKVEntry
	accounts map[string]*Account
	ledger   map[string][]*LedgerEntry

	now func() time.Time
}

type memKVEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// Compile-time interface checks.
var (
	_ SessionStore = (*MemoryStores)(nil)
	_ MessageStore = (*MemoryStores)(nil)
	_ KV           = (*MemoryStores)(nil)
	_ BillingStore = (*MemoryStores)(nil)
)

func init() {
	RegisterBackend("memory", func(_ *Config) (Stores, error) {
		m := NewMemoryStores()
		return &Bundle{
			SessionStore: m,
			MessageStore: m,
			KVStore:      m,
			BillingStore: m,
		}, nil
	})
}

// NewMemoryStores returns empty in-memory stores.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		sessions: make(map[string]*Session),
		messages: make(map[string][]*Message),
		kv:       make(map[string]memKVEntry),
		accounts: make(map[string]*Account),
		ledger:   make(map[string][]*LedgerEntry),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook for TTL expiry.
func (m *MemoryStores) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// --- SessionStore ---

func (m *MemoryStores) CreateSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		return fmerr.New(fmerr.CodeStoreInvalidInput, "session id is required")
	}
	if _, ok := m.sessions[session.ID]; ok {
		return fmerr.New(fmerr.CodeRoundSessionBusy, "session already exists",
			fmerr.FieldSessionID(session.ID))
	}

	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStores) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(id))
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStores) UpdateSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(session.ID))
	}
	cp := *session
	cp.UpdatedAt = m.now()
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStores) ListSessions(_ context.Context, orgID string, opts ListOpts) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Session
	for _, sess := range m.sessions {
		if orgID != "" && sess.OrgID != orgID {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (m *MemoryStores) BeginProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(id))
	}
	if sess.Status != SessionStatusIdle {
		return fmerr.New(fmerr.CodeRoundSessionBusy, "session already has an active round",
			fmerr.FieldSessionID(id), fmerr.Field("status", string(sess.Status)))
	}

	sess.Status = SessionStatusProcessing
	sess.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStores) SetStatus(_ context.Context, id string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(id))
	}
	sess.Status = status
	sess.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStores) GetStatus(_ context.Context, id string) (SessionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return "", fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(id))
	}
	return sess.Status, nil
}

// --- MessageStore ---

func (m *MemoryStores) AppendMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" || msg.SessionID == "" {
		return fmerr.New(fmerr.CodeStoreInvalidInput, "message id and session id are required")
	}

	cp := cloneMessage(msg)
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], cp)
	return nil
}

func (m *MemoryStores) UpdateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[msg.SessionID]
	for i, existing := range msgs {
		if existing.ID == msg.ID {
			msgs[i] = cloneMessage(msg)
			return nil
		}
	}
	return fmerr.New(fmerr.CodeStoreMessageNotFound, "message not found",
		fmerr.FieldSessionID(msg.SessionID), fmerr.FieldMessageID(msg.ID))
}

func (m *MemoryStores) GetMessage(_ context.Context, sessionID, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages[sessionID] {
		if msg.ID == id {
			return cloneMessage(msg), nil
		}
	}
	return nil, fmerr.New(fmerr.CodeStoreMessageNotFound, "message not found",
		fmerr.FieldSessionID(sessionID), fmerr.FieldMessageID(id))
}

func (m *MemoryStores) ListMessages(_ context.Context, sessionID string, opts ListOpts) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, cloneMessage(msg))
	}
	return paginate(out, opts), nil
}

func (m *MemoryStores) UpsertToolResult(_ context.Context, sessionID, messageID string, result ToolResult) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, msg := range m.messages[sessionID] {
		if msg.ID != messageID {
			continue
		}

		cp := cloneMessage(msg)
		replaced := false
		for j, existing := range cp.ToolResults {
			if existing.ToolCallID == result.ToolCallID {
				cp.ToolResults[j] = result
				replaced = true
				break
			}
		}
		if !replaced {
			cp.ToolResults = append(cp.ToolResults, result)
		}
		m.messages[sessionID][i] = cp
		return cloneMessage(cp), nil
	}

	return nil, fmerr.New(fmerr.CodeStoreMessageNotFound, "message not found",
		fmerr.FieldSessionID(sessionID), fmerr.FieldMessageID(messageID))
}

// --- KV ---

func (m *MemoryStores) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.kv[key]
	if !ok || m.expired(entry) {
		return nil, fmerr.New(fmerr.CodeStoreKeyNotFound, "key not found",
			fmerr.Field("key", key))
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *MemoryStores) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memKVEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.kv[key] = entry
	return nil
}

func (m *MemoryStores) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemoryStores) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if entry, ok := m.kv[key]; ok && !m.expired(entry) {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, fmerr.Wrapf(err, fmerr.CodeStoreInvalidInput, "key %q holds a non-integer value", key)
		}
		current = parsed
	}

	current++
	entry := memKVEntry{value: []byte(strconv.FormatInt(current, 10))}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.kv[key] = entry
	return current, nil
}

func (m *MemoryStores) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for key, entry := range m.kv {
		if m.expired(entry) {
			delete(m.kv, key)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryStores) expired(entry memKVEntry) bool {
	return !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt)
}

// --- BillingStore ---

func (m *MemoryStores) GetAccount(_ context.Context, orgID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[orgID]
	if !ok {
		return nil, fmerr.New(fmerr.CodeStoreAccountNotFound, "billing account not found",
			fmerr.FieldOrgID(orgID))
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStores) Credit(_ context.Context, orgID string, amountMicroUSD int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[orgID]
	if !ok {
		acct = &Account{OrgID: orgID}
		m.accounts[orgID] = acct
	}
	acct.BalanceMicroUSD += amountMicroUSD
	acct.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStores) Debit(_ context.Context, orgID string, amountMicroUSD int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[orgID]
	if !ok {
		return fmerr.New(fmerr.CodeStoreAccountNotFound, "billing account not found",
			fmerr.FieldOrgID(orgID))
	}
	acct.BalanceMicroUSD -= amountMicroUSD
	acct.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStores) AppendLedger(_ context.Context, entry *LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.ledger[entry.OrgID] = append(m.ledger[entry.OrgID], &cp)
	return nil
}

func (m *MemoryStores) ListLedger(_ context.Context, orgID string, opts ListOpts) ([]*LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.ledger[orgID]
	out := make([]*LedgerEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	return paginate(out, opts), nil
}

// --- helpers ---

func cloneMessage(msg *Message) *Message {
	cp := *msg
	cp.ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
	cp.ToolResults = append([]ToolResult(nil), msg.ToolResults...)
	if msg.Usage != nil {
		usage := *msg.Usage
		cp.Usage = &usage
	}
	return &cp
}

func paginate[T any](items []T, opts ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
