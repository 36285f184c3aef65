// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/funmax-dev/funmax/internal/provider"
	"github.com/funmax-dev/funmax/internal/store"
)

// Accumulator folds streamed tool-call fragments back into whole calls.
// Providers emit fragments tagged with a call index; ids and names arrive on
// the first fragment, argument text dribbles in afterwards in order. Indexes
// may be sparse.
type Accumulator struct {
	parts map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{parts: make(map[int]*partialCall)}
}

// Add folds one fragment in. The name is overwritten only when the fragment
// carries a non-empty one; argument fragments append in arrival order.
func (a *Accumulator) Add(delta provider.ToolCallDelta) {
	p, ok := a.parts[delta.Index]
	if !ok {
		p = &partialCall{}
		a.parts[delta.Index] = p
	}

	if delta.ID != "" {
		p.id = delta.ID
	}
	if delta.Name != "" {
		p.name = delta.Name
	}
	p.args.WriteString(delta.ArgumentsDelta)
}

// Empty reports whether no fragments have been folded in.
func (a *Accumulator) Empty() bool { return len(a.parts) == 0 }

// Calls assembles the accumulated fragments into tool calls in index order.
// Argument payloads that are not valid JSON are passed through a repair
// attempt; if still invalid they are forwarded raw so the executor (and
// ultimately the model) sees exactly what was generated.
func (a *Accumulator) Calls() []store.ToolCall {
	if len(a.parts) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.parts))
	for idx := range a.parts {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]store.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		p := a.parts[idx]
		calls = append(calls, store.ToolCall{
			ID:        p.id,
			Name:      p.name,
			Arguments: normalizeArguments(p.name, p.args.String()),
		})
	}
	return calls
}

// normalizeArguments makes the argument payload as usable as possible
// without ever dropping it. Empty becomes the empty object; invalid JSON
// gets one repair attempt; anything still broken is forwarded raw.
func normalizeArguments(toolName, args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	if json.Valid([]byte(args)) {
		return args
	}

	slog.Warn("tool call arguments are not valid JSON, attempting repair",
		"tool", toolName, "length", len(args))

	repaired, err := jsonrepair.JSONRepair(args)
	if err == nil && json.Valid([]byte(repaired)) {
		return repaired
	}

	slog.Warn("tool call arguments unrepairable, forwarding raw", "tool", toolName)
	return args
}
