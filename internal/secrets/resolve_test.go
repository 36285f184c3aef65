// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package secrets_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmax-dev/funmax/internal/secrets"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

func TestIsKeyringURI(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"valid URI", "keyring://funmax/anthropic-api-key", true},
		{"valid URI with dashes", "keyring://my-svc/my-key", true},
		{"env var reference", "${ANTHROPIC_API_KEY}", false},
		{"literal value", "sk-abc123", false},
		{"empty string", "", false},
		{"just scheme", "keyring://", true},
		{"other scheme", "vault://secret/key", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := secrets.IsKeyringURI(tt.value)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKeyringURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		wantService string
		wantKey     string
		wantErr     bool
	}{
		{"valid", "keyring://funmax/api-key", "funmax", "api-key", false},
		{"dashes", "keyring://my-service/my-key-name", "my-service", "my-key-name", false},
		{"slashes in key", "keyring://funmax/path/to/key", "funmax", "path/to/key", false},
		{"not a keyring URI", "vault://secret/key", "", "", true},
		{"missing key", "keyring://funmax/", "", "", true},
		{"missing service", "keyring:///key", "", "", true},
		{"missing both", "keyring://", "", "", true},
		{"no path", "keyring://funmax", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, key, err := secrets.ParseKeyringURI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, fmerr.HasCode(err, fmerr.CodeSecretInvalidInput))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantService, svc)
				assert.Equal(t, tt.wantKey, key)
			}
		})
	}
}

func TestResolveKeyringURI(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("funmax", "test-key", "resolved-secret"))

	t.Run("resolves keyring URI", func(t *testing.T) {
		val, err := secrets.ResolveKeyringURI(ks, "keyring://funmax/test-key")
		require.NoError(t, err)
		assert.Equal(t, "resolved-secret", val)
	})

	t.Run("passes through non-keyring values", func(t *testing.T) {
		val, err := secrets.ResolveKeyringURI(ks, "literal-value")
		require.NoError(t, err)
		assert.Equal(t, "literal-value", val)
	})

	t.Run("error on missing secret", func(t *testing.T) {
		_, err := secrets.ResolveKeyringURI(ks, "keyring://funmax/nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolving keyring URI")
	})

	t.Run("error on malformed URI", func(t *testing.T) {
		_, err := secrets.ResolveKeyringURI(ks, "keyring://bad")
		require.Error(t, err)
	})
}

func TestResolveValue(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("funmax", "rv-key", "from-keyring"))

	t.Run("literal passthrough", func(t *testing.T) {
		val, err := secrets.ResolveValue(ks, "sk-literal")
		require.NoError(t, err)
		assert.Equal(t, "sk-literal", val)
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("FUNMAX_TEST_SECRET", "from-env")
		val, err := secrets.ResolveValue(ks, "${FUNMAX_TEST_SECRET}")
		require.NoError(t, err)
		assert.Equal(t, "from-env", val)
	})

	t.Run("unset env var errors", func(t *testing.T) {
		_, err := secrets.ResolveValue(ks, "${FUNMAX_TEST_DOES_NOT_EXIST}")
		require.Error(t, err)
		assert.True(t, fmerr.HasCode(err, fmerr.CodeSecretsResolveFailure))
	})

	t.Run("empty env reference errors", func(t *testing.T) {
		_, err := secrets.ResolveValue(ks, "${}")
		require.Error(t, err)
		assert.True(t, fmerr.HasCode(err, fmerr.CodeSecretInvalidInput))
	})

	t.Run("keyring URI", func(t *testing.T) {
		val, err := secrets.ResolveValue(ks, "keyring://funmax/rv-key")
		require.NoError(t, err)
		assert.Equal(t, "from-keyring", val)
	})
}

func TestResolveViperSecrets(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("funmax", "anthropic-api-key", "sk-ant-secret"))
	t.Setenv("FUNMAX_TEST_OAI_KEY", "sk-oai-secret")

	v := viper.New()
	v.Set("providers.anthropic.api_key", "keyring://funmax/anthropic-api-key")
	v.Set("providers.openai.api_key", "${FUNMAX_TEST_OAI_KEY}")
	v.Set("server.listen", "127.0.0.1:18789") // non-secret value
	v.Set("providers.default", "anthropic/claude-sonnet-4-0")

	secrets.ResolveViperSecrets(v, ks)

	assert.Equal(t, "sk-ant-secret", v.GetString("providers.anthropic.api_key"))
	assert.Equal(t, "sk-oai-secret", v.GetString("providers.openai.api_key"))
	assert.Equal(t, "127.0.0.1:18789", v.GetString("server.listen"))
	assert.Equal(t, "anthropic/claude-sonnet-4-0", v.GetString("providers.default"))
}

func TestResolveViperSecrets_MissingSecretKeepsOriginal(t *testing.T) {
	ks := secrets.NewKeyringStore()

	v := viper.New()
	v.Set("providers.anthropic.api_key", "keyring://funmax/nonexistent-key")

	secrets.ResolveViperSecrets(v, ks)

	// Unresolvable references stay in place so the failure surfaces where the
	// value is used.
	assert.Equal(t, "keyring://funmax/nonexistent-key", v.GetString("providers.anthropic.api_key"))
}
