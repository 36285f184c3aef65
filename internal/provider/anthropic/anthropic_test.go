// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package anthropic_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/provider"
	"github.com/funmax-dev/funmax/internal/provider/anthropic"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*anthropic.Provider)(nil)

func mustNewProvider(t *testing.T) *anthropic.Provider {
	t.Helper()
	p, err := anthropic.New(anthropic.Config{APIKey: "test-key-not-real"})
	require.NoError(t, err)
	return p
}

func TestAnthropicProvider_Name(t *testing.T) {
	assert.Equal(t, "anthropic", mustNewProvider(t).Name())
}

func TestAnthropicProvider_MissingAPIKey(t *testing.T) {
	_, err := anthropic.New(anthropic.Config{})
	require.Error(t, err)
	assert.True(t, fmerr.HasCode(err, fmerr.CodeProviderRequestInvalid))
}

func TestAnthropicProvider_AvailabilityTracksHealth(t *testing.T) {
	p := mustNewProvider(t)
	ctx := context.Background()

	assert.True(t, p.Available(ctx))
	p.RecordFailure()
	assert.False(t, p.Available(ctx))
	p.RecordSuccess()
	assert.True(t, p.Available(ctx))
}

func TestAnthropicProvider_ListModels(t *testing.T) {
	models, err := mustNewProvider(t).ListModels(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, "anthropic", m.Provider)
		assert.True(t, m.Capabilities.SupportsTools)
	}
}

func TestBuildParams_SystemPromptAndDefaults(t *testing.T) {
	req := provider.ChatRequest{
		Model:        "claude-sonnet-4-0",
		SystemPrompt: "be terse",
		Messages: []provider.Message{
			{Role: provider.MessageRoleUser, Content: "hi"},
			{Role: provider.MessageRoleSystem, Content: "ignored inline"},
		},
	}

	params, err := anthropic.BuildParams(req)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-0", string(params.Model))
	assert.Equal(t, int64(4096), params.MaxTokens, "default max tokens")
	require.Len(t, params.System, 1)
	assert.Equal(t, "be terse", params.System[0].Text)
	// Inline system messages are folded into the top-level param, not sent.
	assert.Len(t, params.Messages, 1)
}

func TestExtractSchema(t *testing.T) {
	schema := anthropic.ExtractSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []any{"query", 42},
	})

	assert.NotNil(t, schema.Properties)
	assert.Equal(t, []string{"query"}, schema.Required, "non-string entries skipped")
}
