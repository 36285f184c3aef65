// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package provider

import (
	"context"
	"slices"
	"strings"
	"sync"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Registry manages provider registration, lookup, and routing with an
// ordered failover chain. It implements the Router interface.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string            // "provider/model" format
	overrides  map[string]string // orgID → "provider/model"
	failover   []string          // ordered list of "provider/model" refs
}

// Compile-time check that Registry implements Router.
var _ Router = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		overrides: make(map[string]string),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// RegisterProvider adds a provider to the registry (Router interface).
func (r *Registry) RegisterProvider(name string, p Provider) error {
	r.Register(name, p)
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmerr.New(
			fmerr.CodeProviderNotFound,
			"provider not found: "+name,
			fmerr.FieldProvider(name),
		)
	}
	return p, nil
}

// SetDefault sets the default "provider/model" reference used when the
// session carries no model ref. Returns an error if the provider portion
// of the ref is not registered.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provName, _ := parseRef(ref)
	if _, ok := r.providers[provName]; !ok {
		return fmerr.New(
			fmerr.CodeProviderNotFound,
			"SetDefault: provider not registered: "+provName,
			fmerr.FieldProvider(provName),
		)
	}
	r.defaultRef = ref
	return nil
}

// SetOverride sets an organization-specific "provider/model" override.
func (r *Registry) SetOverride(orgID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provName, _ := parseRef(ref)
	if _, ok := r.providers[provName]; !ok {
		return fmerr.New(
			fmerr.CodeProviderNotFound,
			"SetOverride: provider not registered: "+provName,
			fmerr.FieldProvider(provName),
		)
	}
	r.overrides[orgID] = ref
	return nil
}

// SetFailover sets the ordered failover chain of "provider/model" refs.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		provName, _ := parseRef(ref)
		if _, ok := r.providers[provName]; !ok {
			return fmerr.New(
				fmerr.CodeProviderNotFound,
				"SetFailover: provider not registered: "+provName,
				fmerr.FieldProvider(provName),
			)
		}
	}
	r.failover = append([]string(nil), chain...)
	return nil
}

// Route selects a provider for the given org and model ref. When modelRef
// is empty the org override (or the default) is used.
func (r *Registry) Route(ctx context.Context, orgID, modelRef string) (Provider, string, error) {
	return r.RouteExcluding(ctx, orgID, modelRef, nil)
}

// RouteExcluding is like Route but skips providers named in exclude —
// already-tried candidates in the current failover sequence.
func (r *Registry) RouteExcluding(ctx context.Context, orgID, modelRef string, exclude []string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, err := r.resolveRef(orgID, modelRef)
	if err != nil {
		return nil, "", err
	}
	if ref == "" {
		return nil, "", fmerr.New(
			fmerr.CodeProviderNoDefault,
			"no default provider configured",
		)
	}

	// Try the primary ref, then walk the failover chain.
	provName, _ := parseRef(ref)
	if !slices.Contains(exclude, provName) {
		p, model, err := r.tryRef(ctx, ref)
		if err == nil {
			return p, model, nil
		}
	}

	for _, fallback := range r.failover {
		fbProv, _ := parseRef(fallback)
		if slices.Contains(exclude, fbProv) {
			continue
		}
		p, model, err := r.tryRef(ctx, fallback)
		if err == nil {
			return p, model, nil
		}
	}

	return nil, "", fmerr.New(
		fmerr.CodeProviderAllUnavailable,
		"all providers unavailable: no healthy provider found",
	)
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmerr.Join(errs...)
	}
	return nil
}

// resolveRef determines which "provider/model" ref to use.
// Caller must hold r.mu (at least RLock).
func (r *Registry) resolveRef(orgID, modelRef string) (string, error) {
	// Explicit model refs must use "provider/model" format.
	if modelRef != "" && modelRef != "default" {
		if !strings.Contains(modelRef, "/") {
			return "", fmerr.Errorf(
				fmerr.CodeProviderInvalidModelRef,
				"model ref %q must use provider/model format", modelRef,
			)
		}
		return modelRef, nil
	}

	if orgID != "" {
		if override, ok := r.overrides[orgID]; ok {
			return override, nil
		}
	}

	return r.defaultRef, nil
}

// tryRef parses a "provider/model" ref, looks up the provider, and checks
// availability. Caller must hold r.mu (at least RLock).
func (r *Registry) tryRef(ctx context.Context, ref string) (Provider, string, error) {
	providerName, model := parseRef(ref)

	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", fmerr.New(
			fmerr.CodeProviderNotFound,
			"provider not found: "+providerName,
			fmerr.FieldProvider(providerName),
		)
	}

	if !p.Available(ctx) {
		return nil, "", fmerr.New(
			fmerr.CodeProviderUpstreamFailure,
			"provider unavailable: "+providerName,
			fmerr.FieldProvider(providerName),
		)
	}

	return p, model, nil
}

// parseRef splits a "provider/model" reference on the first "/".
func parseRef(ref string) (providerName, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
