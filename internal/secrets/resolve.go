// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package secrets

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// IsEnvRef reports whether value is an environment reference of the form ${VAR}.
func IsEnvRef(value string) bool {
	return strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}")
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
// Returns an error if the URI is malformed.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", fmerr.Errorf(fmerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	path := strings.TrimPrefix(uri, keyringScheme)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmerr.Errorf(fmerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}

	return parts[0], parts[1], nil
}

// ResolveKeyringURI resolves a single keyring:// URI to its secret value.
// Returns the original value unchanged if it is not a keyring URI.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", fmerr.Wrapf(err, fmerr.CodeSecretsResolveFailure,
			"resolving keyring URI %q", value)
	}

	return secret, nil
}

// ResolveValue resolves a config value to its secret material. Literal values
// pass through unchanged; ${VAR} references are expanded from the environment;
// keyring://service/key URIs are looked up in the OS keyring.
func ResolveValue(store Store, value string) (string, error) {
	switch {
	case IsEnvRef(value):
		name := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		if name == "" {
			return "", fmerr.Errorf(fmerr.CodeSecretInvalidInput, "empty environment reference %q", value)
		}
		resolved, ok := os.LookupEnv(name)
		if !ok {
			return "", fmerr.Errorf(fmerr.CodeSecretsResolveFailure,
				"environment variable %s referenced by config is not set", name)
		}
		return resolved, nil
	case IsKeyringURI(value):
		return ResolveKeyringURI(store, value)
	default:
		return value, nil
	}
}

// ResolveViperSecrets walks all keys in a Viper instance and resolves any
// string values that use the ${VAR} or keyring:// forms. This is a post-load
// resolution step, not a Viper decoder hook.
//
// Resolution failures are logged as warnings and the original value is kept in
// place, allowing the application to surface the error later when the config
// value is actually used.
func ResolveViperSecrets(v *viper.Viper, store Store) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsEnvRef(val) && !IsKeyringURI(val) {
			continue
		}

		resolved, err := ResolveValue(store, val)
		if err != nil {
			slog.Warn("failed to resolve secret reference, keeping original value",
				"config_key", key,
				"error", err,
			)
			continue
		}

		v.Set(key, resolved)
	}
}
