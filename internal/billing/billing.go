// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

// Package billing prices model calls and keeps prepaid balances honest.
// Amounts are integer micro-USD throughout; affordability is checked before
// a model is invoked, and the post-hoc debit is never allowed to fail a
// round.
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// ModelCost prices a model per million tokens, in micro-USD.
type ModelCost struct {
	InputPerMTok  int64
	OutputPerMTok int64
}

// Ledger prices usage against a configured cost table and records it.
type Ledger struct {
	store store.BillingStore
	costs map[string]ModelCost // keyed by "provider/model" ref
	now   func() time.Time
}

// NewLedger builds a ledger over the billing store with the given cost table.
func NewLedger(billingStore store.BillingStore, costs map[string]ModelCost) *Ledger {
	if costs == nil {
		costs = make(map[string]ModelCost)
	}
	return &Ledger{
		store: billingStore,
		costs: costs,
		now:   time.Now,
	}
}

// SetNowFunc overrides the time source. Test hook.
func (l *Ledger) SetNowFunc(now func() time.Time) { l.now = now }

// Cost computes the micro-USD price of the given usage for a model ref.
// An unpriced model is an error so misconfiguration surfaces loudly instead
// of billing zero.
func (l *Ledger) Cost(modelRef string, usage store.Usage) (int64, error) {
	cost, ok := l.costs[modelRef]
	if !ok {
		return 0, fmerr.Errorf(fmerr.CodeBillingModelUnpriced, "no cost entry for model %q", modelRef)
	}

	in := int64(usage.InputTokens) * cost.InputPerMTok / 1_000_000
	out := int64(usage.OutputTokens) * cost.OutputPerMTok / 1_000_000
	return in + out, nil
}

// CheckBalance verifies the org can afford the estimated usage before the
// model is invoked. A missing account counts as a zero balance.
func (l *Ledger) CheckBalance(ctx context.Context, orgID, modelRef string, estimated store.Usage) error {
	estimatedCost, err := l.Cost(modelRef, estimated)
	if err != nil {
		return err
	}

	account, err := l.store.GetAccount(ctx, orgID)
	if err != nil {
		if fmerr.IsNotFound(err) {
			return fmerr.New(fmerr.CodeBillingBalanceExceeded, "no billing account",
				fmerr.FieldOrgID(orgID))
		}
		return err
	}

	if account.BalanceMicroUSD < estimatedCost {
		return fmerr.New(fmerr.CodeBillingBalanceExceeded, "balance below estimated cost",
			fmerr.FieldOrgID(orgID),
			fmerr.Field("balance_micro_usd", account.BalanceMicroUSD),
			fmerr.Field("estimated_micro_usd", estimatedCost))
	}
	return nil
}

// RecordUsage writes a ledger entry for a completed model call and debits
// the account. The debit and ledger append are best effort: accounting
// failures are logged, never propagated, because the tokens are already
// spent. Returns the computed cost.
func (l *Ledger) RecordUsage(ctx context.Context, orgID, sessionID, modelRef string, usage store.Usage) int64 {
	cost, err := l.Cost(modelRef, usage)
	if err != nil {
		slog.Warn("skipping billing for unpriced model",
			"org_id", orgID, "model_ref", modelRef, "error", err)
		return 0
	}

	entry := &store.LedgerEntry{
		ID:           uuid.NewString(),
		OrgID:        orgID,
		SessionID:    sessionID,
		ModelRef:     modelRef,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostMicroUSD: cost,
		CreatedAt:    l.now(),
	}
	if err := l.store.AppendLedger(ctx, entry); err != nil {
		slog.Error("failed to append billing ledger entry",
			"org_id", orgID, "session_id", sessionID, "error", err)
	}

	if err := l.store.Debit(ctx, orgID, cost); err != nil {
		slog.Error("failed to debit account",
			"org_id", orgID, "cost_micro_usd", cost, "error", err)
	}

	return cost
}
