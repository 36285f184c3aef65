// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/config"
)

func testWireConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Listen: "127.0.0.1:0"},
		Storage: config.StorageConfig{Backend: "memory"},
		Models:  config.ModelsConfig{Default: "anthropic/claude-sonnet-4-5"},
	}
}

func TestWireAppMemoryBackend(t *testing.T) {
	// No providers configured: the app still wires, routing stays disabled.
	app, err := WireApp(testWireConfig())
	require.NoError(t, err)

	assert.NotNil(t, app.Server)
	assert.NotNil(t, app.Engine)
	assert.NotNil(t, app.Sweeper)

	// Built-in tools are registered.
	assert.Contains(t, app.Tools.List(), "clock")
	assert.Contains(t, app.Tools.List(), "web_search")
	assert.Contains(t, app.Tools.List(), "complete")

	require.NoError(t, app.Close())
}

func TestWireAppRegistersConfiguredProviders(t *testing.T) {
	cfg := testWireConfig()
	cfg.Providers = map[string]config.ProviderConfig{
		"anthropic": {APIKey: "test-key"},
		"keyless":   {},            // skipped: empty key
		"mystery":   {APIKey: "x"}, // skipped: unknown name
	}
	cfg.Models.Failover = []string{
		"anthropic/claude-haiku-4-5",
		"openai/gpt-4o", // dropped: provider not registered
	}

	app, err := WireApp(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close()) }()

	_, err = app.Providers.Get("anthropic")
	assert.NoError(t, err)
	_, err = app.Providers.Get("keyless")
	assert.Error(t, err)
	_, err = app.Providers.Get("mystery")
	assert.Error(t, err)
}

func TestConvertCosts(t *testing.T) {
	out := convertCosts(map[string]config.ModelCostConfig{
		"anthropic/claude-sonnet-4-5": {InputPerMTokUSD: 3, OutputPerMTokUSD: 15},
	})

	cost := out["anthropic/claude-sonnet-4-5"]
	assert.Equal(t, int64(3_000_000), cost.InputPerMTok)
	assert.Equal(t, int64(15_000_000), cost.OutputPerMTok)
}
