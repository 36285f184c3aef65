// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package store

import (
	"sync"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Stores bundles every persistence interface behind one handle. Backends
// typically share a single database connection across the sub-stores, so
// Close is on the bundle rather than the individual interfaces.
type Stores interface {
	Sessions() SessionStore
	Messages() MessageStore
	KV() KV
	Billing() BillingStore
	Close() error
}

// Factory opens a store bundle for a named backend.
type Factory func(cfg *Config) (Stores, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Open creates the store bundle for the configured backend.
func Open(cfg *Config) (Stores, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmerr.New(fmerr.CodeStoreBackendUnsupported, "unsupported storage backend",
			fmerr.Field("backend", backend))
	}

	return factory(cfg)
}

// Bundle is a plain composition of the four sub-stores. Backend packages use
// it to avoid re-declaring the accessor boilerplate.
type Bundle struct {
	SessionStore SessionStore
	MessageStore MessageStore
	KVStore      KV
	BillingStore BillingStore
	Closer       func() error
}

func (b *Bundle) Sessions() SessionStore { return b.SessionStore }
func (b *Bundle) Messages() MessageStore { return b.MessageStore }
func (b *Bundle) KV() KV                 { return b.KVStore }
func (b *Bundle) Billing() BillingStore  { return b.BillingStore }

func (b *Bundle) Close() error {
	if b.Closer == nil {
		return nil
	}
	return b.Closer()
}
