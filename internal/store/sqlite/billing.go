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
var _ store.BillingStore = (*BillingStore)(nil)

// BillingStore implements store.BillingStore backed by SQLite.
type BillingStore struct {
	db *sql.DB
}

// NewBillingStore wraps an already-opened database handle.
func NewBillingStore(db *sql.DB) *BillingStore {
	return &BillingStore{db: db}
}

func (s *BillingStore) GetAccount(ctx context.Context, orgID string) (*store.Account, error) {
	const q = `SELECT org_id, balance_micro_usd, updated_at FROM accounts WHERE org_id = ?`

	var acct store.Account
	var updatedAt string

	err := s.db.QueryRowContext(ctx, q, orgID).Scan(&acct.OrgID, &acct.BalanceMicroUSD, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmerr.New(fmerr.CodeStoreAccountNotFound, "billing account not found",
			fmerr.FieldOrgID(orgID))
	}
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "getting account",
			fmerr.FieldOrgID(orgID))
	}

	acct.UpdatedAt = parseTime(updatedAt)
	return &acct, nil
}

func (s *BillingStore) Credit(ctx context.Context, orgID string, amountMicroUSD int64) error {
	const q = `INSERT INTO accounts (org_id, balance_micro_usd, updated_at) VALUES (?, ?, ?)
ON CONFLICT(org_id) DO UPDATE SET
	balance_micro_usd = balance_micro_usd + excluded.balance_micro_usd,
	updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q, orgID, amountMicroUSD, formatTime(time.Now()))
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "crediting account",
			fmerr.FieldOrgID(orgID))
	}
	return nil
}

// Debit subtracts in a single UPDATE so concurrent debits serialise on the
// row. Negative balances are allowed: affordability is checked before the
// model call, and the post-hoc debit must never fail the round.
func (s *BillingStore) Debit(ctx context.Context, orgID string, amountMicroUSD int64) error {
	const q = `UPDATE accounts SET balance_micro_usd = balance_micro_usd - ?, updated_at = ?
WHERE org_id = ?`

	result, err := s.db.ExecContext(ctx, q, amountMicroUSD, formatTime(time.Now()), orgID)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "debiting account",
			fmerr.FieldOrgID(orgID))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "checking rows affected",
			fmerr.FieldOrgID(orgID))
	}
	if rows == 0 {
		return fmerr.New(fmerr.CodeStoreAccountNotFound, "billing account not found",
			fmerr.FieldOrgID(orgID))
	}
	return nil
}

func (s *BillingStore) AppendLedger(ctx context.Context, entry *store.LedgerEntry) error {
	const q = `INSERT INTO ledger (id, org_id, session_id, model_ref, input_tokens, output_tokens, cost_micro_usd, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		entry.ID,
		entry.OrgID,
		entry.SessionID,
		entry.ModelRef,
		entry.InputTokens,
		entry.OutputTokens,
		entry.CostMicroUSD,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "appending ledger entry",
			fmerr.FieldOrgID(entry.OrgID))
	}
	return nil
}

func (s *BillingStore) ListLedger(ctx context.Context, orgID string, opts store.ListOpts) ([]*store.LedgerEntry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	const q = `SELECT id, org_id, session_id, model_ref, input_tokens, output_tokens, cost_micro_usd, created_at
FROM ledger WHERE org_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, orgID, limit, opts.Offset)
	if err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "listing ledger",
			fmerr.FieldOrgID(orgID))
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var entries []*store.LedgerEntry
	for rows.Next() {
		var e store.LedgerEntry
		var createdAt string
		if err := rows.Scan(
			&e.ID,
			&e.OrgID,
			&e.SessionID,
			&e.ModelRef,
			&e.InputTokens,
			&e.OutputTokens,
			&e.CostMicroUSD,
			&createdAt,
		); err != nil {
			return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "scanning ledger row")
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmerr.Wrap(err, fmerr.CodeStoreDatabaseFailure, "iterating ledger rows")
	}

	return entries, nil
}
