// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package sqlite

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Compile-time interface check.
var _ store.KV = (*KVStore)(nil)

// KVStore implements store.KV backed by SQLite. Expiry is lazy: reads treat
// expired rows as absent, and a periodic PurgeExpired pass reclaims them.
type KVStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewKVStore wraps an already-opened database handle.
func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db, now: time.Now}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, fmerr.New(fmerr.CodeStoreKeyNotFound, "key not found",
			fmerr.Field("key", key))
	}
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "getting key",
			fmerr.Field("key", key))
	}

	if s.isExpired(expiresAt) {
		return nil, fmerr.New(fmerr.CodeStoreKeyNotFound, "key not found",
			fmerr.Field("key", key))
	}
	return value, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const q = `INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`

	_, err := s.db.ExecContext(ctx, q, key, value, s.expiry(ttl))
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "setting key",
			fmerr.Field("key", key))
	}
	return nil
}

func (s *KVStore) Del(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "deleting key",
			fmerr.Field("key", key))
	}
	return nil
}

// Incr increments inside a transaction. SQLite serialises writers, so the
// read-modify-write pair is atomic with respect to other Incr callers.
func (s *KVStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "beginning incr tx",
			fmerr.Field("key", key))
	}
	defer tx.Rollback() //nolint:errcheck

	var current int64
	var raw []byte
	var expiresAt string

	err = tx.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&raw, &expiresAt)
	switch {
	case err == sql.ErrNoRows:
		// Absent: counter starts at 0.
	case err != nil:
		return 0, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "reading counter",
			fmerr.Field("key", key))
	case s.isExpired(expiresAt):
		// Expired rows count as absent.
	default:
		parsed, perr := strconv.ParseInt(string(raw), 10, 64)
		if perr != nil {
			return 0, fmerr.Wrapf(perr, fmerr.CodeStoreInvalidInput, "key %q holds a non-integer value", key)
		}
		current = parsed
	}

	current++

	const upsert = `INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`
	if _, err := tx.ExecContext(ctx, upsert, key, []byte(strconv.FormatInt(current, 10)), s.expiry(ttl)); err != nil {
		return 0, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "writing counter",
			fmerr.Field("key", key))
	}

	if err := tx.Commit(); err != nil {
		return 0, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "committing incr",
			fmerr.Field("key", key))
	}
	return current, nil
}

func (s *KVStore) PurgeExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at != '' AND expires_at <= ?`,
		formatTime(s.now()),
	)
	if err != nil {
		return 0, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "purging expired keys")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "checking purged rows")
	}
	return int(rows), nil
}

func (s *KVStore) expiry(ttl time.Duration) string {
	if ttl <= 0 {
		return ""
	}
	return formatTime(s.now().Add(ttl))
}

func (s *KVStore) isExpired(expiresAt string) bool {
	if expiresAt == "" {
		return false
	}
	return !s.now().Before(parseTime(expiresAt))
}
