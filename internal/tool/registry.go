// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package tool

import (
	"context"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/funmax-dev/funmax/internal/provider"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Registry holds the tools available to the round engine. Registration
// compiles and rejects invalid parameter schemas up front so dispatch never
// has to.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. The parameter schema is compiled eagerly; a schema
// that does not compile or a duplicate name is a registration error.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmerr.New(fmerr.CodeToolSchemaInvalid, "tool registration: name must not be empty")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.ParameterSchema()))
	if err != nil {
		return fmerr.Wrapf(err, fmerr.CodeToolSchemaInvalid,
			"tool registration: compiling parameter schema for %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmerr.Errorf(fmerr.CodeToolAlreadyRegistered, "tool %q already registered", name)
	}

	r.tools[name] = t
	r.schemas[name] = schema
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmerr.Errorf(fmerr.CodeToolNotFound, "tool %q not found", name)
	}
	return t, nil
}

// List returns the registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-facing tool definitions for every registered
// tool, sorted by name so prompts are stable across runs.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]provider.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.ParameterSchema(),
		})
	}
	return defs
}

// ValidateArgs checks a raw argument payload against the tool's compiled
// schema. Callers treat a validation failure as advisory: malformed model
// output is logged and forwarded, never fatal.
func (r *Registry) ValidateArgs(name, argsJSON string) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return fmerr.Errorf(fmerr.CodeToolNotFound, "tool %q not found", name)
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(argsJSON))
	if err != nil {
		return fmerr.Wrapf(err, fmerr.CodeToolSchemaInvalid, "validating arguments for %s", name)
	}
	if !result.Valid() {
		first := ""
		if errs := result.Errors(); len(errs) > 0 {
			first = errs[0].String()
		}
		return fmerr.Errorf(fmerr.CodeToolSchemaInvalid, "arguments for %s do not match schema: %s", name, first)
	}
	return nil
}

// Execute dispatches an invocation to the named tool. An unknown tool is a
// failed result, not an error: the model asked for something that does not
// exist and should be told so.
func (r *Registry) Execute(ctx context.Context, inv Invocation) Outcome {
	r.mu.RLock()
	t, ok := r.tools[inv.Call.Name]
	r.mu.RUnlock()

	if !ok {
		return Failuref(inv.Call, "unknown tool %q", inv.Call.Name)
	}
	return t.Execute(ctx, inv)
}
