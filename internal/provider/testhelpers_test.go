// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package provider_test

import (
	"context"

	"github.com/funmax-dev/funmax/internal/provider"
)

// mockProvider is a reusable provider.Provider implementation for tests.
type mockProvider struct {
	name      string
	available bool
	models    []provider.ModelInfo
	closed    bool
}

func newMockProvider(name string, available bool) *mockProvider {
	return &mockProvider{name: name, available: available}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Available(_ context.Context) bool { return m.available }

func (m *mockProvider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return m.models, nil
}

func (m *mockProvider) Chat(_ context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent, 3)
	ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "hello"}
	ch <- provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 10, OutputTokens: 5}}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return nil
}
