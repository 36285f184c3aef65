// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package sqlite

import (
	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", newStores)
}

func newStores(cfg *store.Config) (store.Stores, error) {
	if cfg.Path == "" {
		return nil, fmerr.New(fmerr.CodeStoreInvalidInput, "sqlite backend requires a database path")
	}

	db, err := OpenDB(cfg.Path)
	if err != nil {
		return nil, err
	}

	return &store.Bundle{
		SessionStore: NewSessionStore(db),
		MessageStore: NewMessageStore(db),
		KVStore:      NewKVStore(db),
		BillingStore: NewBillingStore(db),
		Closer:       db.Close,
	}, nil
}
