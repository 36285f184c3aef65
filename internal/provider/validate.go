// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package provider

import (
	"context"
	"io"
	"net/http"

	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// ProviderName identifies a supported LLM provider for key validation.
type ProviderName string

const (
	ProviderAnthropic  ProviderName = "anthropic"
	ProviderOpenAI     ProviderName = "openai"
	ProviderOpenRouter ProviderName = "openrouter"
)

// ValidateKey makes a lightweight HTTP call to the provider's models endpoint
// to confirm the API key is valid.
func ValidateKey(ctx context.Context, client *http.Client, provider ProviderName, key string) error {
	var (
		url     string
		headers map[string]string
	)

	switch provider {
	case ProviderAnthropic:
		url = "https://api.anthropic.com/v1/models"
		headers = map[string]string{
			"x-api-key":         key,
			"anthropic-version": "2023-06-01",
		}
	case ProviderOpenAI:
		url = "https://api.openai.com/v1/models"
		headers = map[string]string{
			"Authorization": "Bearer " + key,
		}
	case ProviderOpenRouter:
		url = "https://openrouter.ai/api/v1/models"
		headers = map[string]string{
			"Authorization": "Bearer " + key,
		}
	default:
		return fmerr.Errorf(fmerr.CodeProviderKeyInvalid, "unknown provider: %s", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmerr.Wrapf(err, fmerr.CodeProviderKeyCheckFailed, "building validation request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmerr.Wrapf(err, fmerr.CodeProviderKeyCheckFailed, "validating %s key", provider)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmerr.Errorf(fmerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", provider, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmerr.Errorf(fmerr.CodeProviderKeyCheckFailed, "%s validation failed (HTTP %d)", provider, resp.StatusCode)
	}

	return nil
}

// ValidateKeyWithURL is a testable version of ValidateKey that accepts an
// explicit URL. When url is non-empty it overrides the provider default.
func ValidateKeyWithURL(ctx context.Context, client *http.Client, provider ProviderName, key, url string, headers map[string]string) error {
	if provider == "" || provider == "unknown" {
		return fmerr.Errorf(fmerr.CodeProviderKeyInvalid, "unknown provider: %s", provider)
	}

	if url == "" {
		return ValidateKey(ctx, client, provider, key)
	}

	if headers == nil {
		headers = make(map[string]string)
	}
	switch provider {
	case ProviderAnthropic:
		headers["x-api-key"] = key
		headers["anthropic-version"] = "2023-06-01"
	case ProviderOpenAI, ProviderOpenRouter:
		headers["Authorization"] = "Bearer " + key
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmerr.Wrapf(err, fmerr.CodeProviderKeyCheckFailed, "building request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmerr.Wrapf(err, fmerr.CodeProviderKeyCheckFailed, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmerr.Errorf(fmerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", provider, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmerr.Errorf(fmerr.CodeProviderKeyCheckFailed, "validation failed (HTTP %d)", resp.StatusCode)
	}
	return nil
}
