// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package openrouter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/provider"
	"github.com/funmax-dev/funmax/internal/provider/openrouter"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*openrouter.Provider)(nil)

func TestOpenRouterProvider_Name(t *testing.T) {
	p, err := openrouter.New(openrouter.Config{APIKey: "test-key-not-real"})
	require.NoError(t, err)
	assert.Equal(t, "openrouter", p.Name())
}

func TestOpenRouterProvider_MissingAPIKey(t *testing.T) {
	_, err := openrouter.New(openrouter.Config{})
	require.Error(t, err)
	assert.True(t, fmerr.HasCode(err, fmerr.CodeProviderRequestInvalid))
}

func TestOpenRouterProvider_ListModels(t *testing.T) {
	p, err := openrouter.New(openrouter.Config{APIKey: "test-key-not-real"})
	require.NoError(t, err)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.Equal(t, "openrouter", m.Provider)
		assert.Contains(t, m.ID, "/", "openrouter model ids are namespaced")
	}
}
