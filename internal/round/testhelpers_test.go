// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package round_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/billing"
	"github.com/funmax-dev/funmax/internal/provider"
	"github.com/funmax-dev/funmax/internal/push"
	"github.com/funmax-dev/funmax/internal/round"
	"github.com/funmax-dev/funmax/internal/store"
	"github.com/funmax-dev/funmax/internal/tool"
)

// scriptedProvider replays canned event scripts, one per Chat call.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	scripts  [][]provider.ChatEvent
	calls    int
	requests []provider.ChatRequest
}

func newScriptedProvider(scripts ...[]provider.ChatEvent) *scriptedProvider {
	return &scriptedProvider{name: "stub", scripts: scripts}
}

func (p *scriptedProvider) Name() string                   { return p.name }
func (p *scriptedProvider) Available(context.Context) bool { return true }
func (p *scriptedProvider) Close() error                   { return nil }

func (p *scriptedProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: "stub-model", Name: "Stub", Provider: p.name}}, nil
}

func (p *scriptedProvider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	idx := p.calls
	p.calls++
	var script []provider.ChatEvent
	if idx < len(p.scripts) {
		script = p.scripts[idx]
	} else if len(p.scripts) > 0 {
		script = p.scripts[len(p.scripts)-1]
	}
	p.mu.Unlock()

	ch := make(chan provider.ChatEvent, len(script)+1)
	go func() {
		defer close(ch)
		for _, event := range script {
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) chatCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) lastRequest(t *testing.T) provider.ChatRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

// --- event script builders ---

func textScript(text string) []provider.ChatEvent {
	return []provider.ChatEvent{
		{Type: provider.EventTypeTextDelta, Text: text},
		{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 10, OutputTokens: 5}},
		{Type: provider.EventTypeDone, FinishReason: "stop"},
	}
}

func toolCallScript(callID, toolName, args string) []provider.ChatEvent {
	return []provider.ChatEvent{
		{Type: provider.EventTypeToolCallDelta, ToolDelta: &provider.ToolCallDelta{
			Index: 0, ID: callID, Name: toolName,
		}},
		{Type: provider.EventTypeToolCallDelta, ToolDelta: &provider.ToolCallDelta{
			Index: 0, ArgumentsDelta: args,
		}},
		{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 20, OutputTokens: 8}},
		{Type: provider.EventTypeDone, FinishReason: "tool_calls"},
	}
}

func errorScript(msg string) []provider.ChatEvent {
	return []provider.ChatEvent{
		{Type: provider.EventTypeTextDelta, Text: "partial "},
		{Type: provider.EventTypeError, Error: msg},
	}
}

// --- environment ---

type testEnv struct {
	stores store.Stores
	broker *push.Broker
	tools  *tool.Registry
	engine *round.Engine
	prov   *scriptedProvider
}

func newTestEnv(t *testing.T, cfg round.Config, costs map[string]billing.ModelCost,
	scripts ...[]provider.ChatEvent) *testEnv {
	t.Helper()

	stores, err := store.Open(&store.Config{Backend: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	prov := newScriptedProvider(scripts...)
	registry := provider.NewRegistry()
	registry.Register(prov.Name(), prov)
	require.NoError(t, registry.SetDefault("stub/stub-model"))

	broker := push.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })
	debouncer := push.NewDebouncer(broker, 5*time.Millisecond)
	t.Cleanup(func() { _ = debouncer.Close() })

	if cfg.StreamRetryDelay == 0 {
		cfg.StreamRetryDelay = time.Millisecond
	}

	tools := tool.NewRegistry()
	engine := round.NewEngine(round.Deps{
		Sessions:  stores.Sessions(),
		Messages:  stores.Messages(),
		KV:        stores.KV(),
		Router:    registry,
		Tools:     tools,
		Ledger:    billing.NewLedger(stores.Billing(), costs),
		Broker:    broker,
		Debouncer: debouncer,
	}, cfg)
	t.Cleanup(func() { _ = engine.Close() })

	return &testEnv{
		stores: stores,
		broker: broker,
		tools:  tools,
		engine: engine,
		prov:   prov,
	}
}

// newTestEnvWithTools is newTestEnv with a caller-filled registry.
func newTestEnvWithTools(t *testing.T, cfg round.Config, costs map[string]billing.ModelCost,
	fill func(*round.Engine) []tool.Tool, scripts ...[]provider.ChatEvent) *testEnv {
	t.Helper()

	stores, err := store.Open(&store.Config{Backend: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	prov := newScriptedProvider(scripts...)
	registry := provider.NewRegistry()
	registry.Register(prov.Name(), prov)
	require.NoError(t, registry.SetDefault("stub/stub-model"))

	broker := push.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })
	debouncer := push.NewDebouncer(broker, 5*time.Millisecond)
	t.Cleanup(func() { _ = debouncer.Close() })

	if cfg.StreamRetryDelay == 0 {
		cfg.StreamRetryDelay = time.Millisecond
	}

	tools := tool.NewRegistry()
	engine := round.NewEngine(round.Deps{
		Sessions:  stores.Sessions(),
		Messages:  stores.Messages(),
		KV:        stores.KV(),
		Router:    registry,
		Tools:     tools,
		Ledger:    billing.NewLedger(stores.Billing(), costs),
		Broker:    broker,
		Debouncer: debouncer,
	}, cfg)
	t.Cleanup(func() { _ = engine.Close() })

	for _, tl := range fill(engine) {
		require.NoError(t, tools.Register(tl))
	}

	return &testEnv{stores: stores, broker: broker, tools: tools, engine: engine, prov: prov}
}

func (env *testEnv) createSession(t *testing.T, id string) *store.Session {
	t.Helper()
	session := &store.Session{
		ID:        id,
		OrgID:     "org-1",
		AgentID:   "agent-1",
		Status:    store.SessionStatusIdle,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, env.stores.Sessions().CreateSession(context.Background(), session))
	return session
}

func (env *testEnv) sessionStatus(t *testing.T, id string) store.SessionStatus {
	t.Helper()
	status, err := env.stores.Sessions().GetStatus(context.Background(), id)
	require.NoError(t, err)
	return status
}

func (env *testEnv) listMessages(t *testing.T, sessionID string) []*store.Message {
	t.Helper()
	msgs, err := env.stores.Messages().ListMessages(context.Background(), sessionID, store.ListOpts{})
	require.NoError(t, err)
	return msgs
}

// assistantMessages filters the assistant messages in order.
func assistantMessages(msgs []*store.Message) []*store.Message {
	var out []*store.Message
	for _, m := range msgs {
		if m.Role == store.MessageRoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

// localTool is a registry-ready local tool driven by a function.
type localTool struct {
	name    string
	execute func(ctx context.Context, inv tool.Invocation) tool.Outcome
}

func (l *localTool) Name() string        { return l.name }
func (l *localTool) Description() string { return "test tool" }
func (l *localTool) ParameterSchema() map[string]any {
	return map[string]any{"type": "object"}
}
func (l *localTool) Execute(ctx context.Context, inv tool.Invocation) tool.Outcome {
	return l.execute(ctx, inv)
}

// remoteTool always pauses.
type remoteTool struct{ name string }

func (r *remoteTool) Name() string                    { return r.name }
func (r *remoteTool) Description() string             { return "remote test tool" }
func (r *remoteTool) ParameterSchema() map[string]any { return map[string]any{"type": "object"} }
func (r *remoteTool) Execute(_ context.Context, inv tool.Invocation) tool.Outcome {
	return tool.Pending(inv.Call)
}
