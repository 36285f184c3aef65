// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Compile-time interface check.
var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore backed by SQLite.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps an already-opened database handle.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *store.Session) error {
	const q = `INSERT INTO sessions (id, org_id, agent_id, model_ref, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		session.ID,
		session.OrgID,
		session.AgentID,
		session.ModelRef,
		string(session.Status),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "creating session",
			fmerr.FieldSessionID(session.ID))
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	const q = `SELECT id, org_id, agent_id, model_ref, status, created_at, updated_at
FROM sessions WHERE id = ?`

	var sess store.Session
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&sess.ID,
		&sess.OrgID,
		&sess.AgentID,
		&sess.ModelRef,
		&sess.Status,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(id))
	}
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "getting session",
			fmerr.FieldSessionID(id))
	}

	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)

	return &sess, nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, session *store.Session) error {
	const q = `UPDATE sessions SET org_id = ?, agent_id = ?, model_ref = ?, status = ?, updated_at = ?
WHERE id = ?`

	result, err := s.db.ExecContext(ctx, q,
		session.OrgID,
		session.AgentID,
		session.ModelRef,
		string(session.Status),
		formatTime(time.Now()),
		session.ID,
	)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "updating session",
			fmerr.FieldSessionID(session.ID))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "checking rows affected",
			fmerr.FieldSessionID(session.ID))
	}
	if rows == 0 {
		return fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(session.ID))
	}
	return nil
}

func (s *SessionStore) ListSessions(ctx context.Context, orgID string, opts store.ListOpts) ([]*store.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT id, org_id, agent_id, model_ref, status, created_at, updated_at
FROM sessions WHERE org_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, orgID, limit, opts.Offset)
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "listing sessions",
			fmerr.FieldOrgID(orgID))
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var sessions []*store.Session
	for rows.Next() {
		var sess store.Session
		var createdAt, updatedAt string
		if err := rows.Scan(
			&sess.ID,
			&sess.OrgID,
			&sess.AgentID,
			&sess.ModelRef,
			&sess.Status,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "scanning session row")
		}
		sess.CreatedAt = parseTime(createdAt)
		sess.UpdatedAt = parseTime(updatedAt)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "iterating session rows")
	}

	return sessions, nil
}

// BeginProcessing flips idle → processing in one guarded UPDATE. The WHERE
// clause is the mutual-exclusion check: concurrent callers race on a single
// row write and exactly one sees rows == 1.
func (s *SessionStore) BeginProcessing(ctx context.Context, id string) error {
	const q = `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, q,
		string(store.SessionStatusProcessing),
		formatTime(time.Now()),
		id,
		string(store.SessionStatusIdle),
	)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "claiming session",
			fmerr.FieldSessionID(id))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "checking rows affected",
			fmerr.FieldSessionID(id))
	}
	if rows == 1 {
		return nil
	}

	// The guarded update missed: either the session does not exist or it is
	// not idle. Disambiguate with a follow-up read.
	status, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmerr.New(fmerr.CodeRoundSessionBusy, "session already has an active round",
		fmerr.FieldSessionID(id), fmerr.Field("status", string(status)))
}

func (s *SessionStore) SetStatus(ctx context.Context, id string, status store.SessionStatus) error {
	const q = `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, q, string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "setting session status",
			fmerr.FieldSessionID(id))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "checking rows affected",
			fmerr.FieldSessionID(id))
	}
	if rows == 0 {
		return fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(id))
	}
	return nil
}

func (s *SessionStore) GetStatus(ctx context.Context, id string) (store.SessionStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmerr.New(fmerr.CodeStoreSessionNotFound, "session not found",
			fmerr.FieldSessionID(id))
	}
	if err != nil {
		return "", fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "getting session status",
			fmerr.FieldSessionID(id))
	}
	return store.SessionStatus(status), nil
}
