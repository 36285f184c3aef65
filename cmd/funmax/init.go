// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/funmax-dev/funmax/internal/config"
	"github.com/funmax-dev/funmax/internal/provider"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// initHTTPClient is the HTTP client used for provider key validation.
// Exposed as a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// defaultConfigPath resolves where funmax.yaml lives. Variable so tests can
// redirect writes into a temp dir.
var defaultConfigPath = config.DefaultConfigPath

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the funmax config file",
		Long: `Write a starter config to ~/.config/funmax/funmax.yaml.

Without flags, the annotated default config is written as-is. With
--provider and --api-key, the key is validated against the provider,
stored in the OS keyring, and referenced from the generated config via a
keyring:// URI — no secrets end up in plain text.

After completion, run:
  funmax serve    — start the service
  funmax secret   — manage stored keys`,
		RunE: runInit,
	}

	cmd.Flags().String("provider", "", "LLM provider to configure (anthropic, openai, openrouter)")
	cmd.Flags().String("api-key", "", "API key for the provider (validated before saving)")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	providerName, _ := cmd.Flags().GetString("provider")
	apiKey, _ := cmd.Flags().GetString("api-key")
	force, _ := cmd.Flags().GetBool("force")

	cfgPath, err := defaultConfigPath()
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(cfgPath); err == nil {
			return fmerr.Errorf(fmerr.CodeCLISetupFailure,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	content := config.DefaultConfigYAML
	if providerName != "" {
		if apiKey == "" {
			return fmerr.New(fmerr.CodeCLISetupFailure, "--provider requires --api-key")
		}

		if err := provider.ValidateKey(cmd.Context(), initHTTPClient, provider.ProviderName(providerName), apiKey); err != nil {
			return fmerr.Wrapf(err, fmerr.CodeCLISetupFailure, "validating %s API key", providerName)
		}

		// Key goes into the keyring; the config only carries the reference.
		// An orphaned keyring entry on a later write failure is harmless and
		// gets overwritten on re-run.
		keyName := providerName + "-api-key"
		if err := secretStoreFactory().Store(serviceName, keyName, apiKey); err != nil {
			return fmerr.Wrapf(err, fmerr.CodeSecretStoreFailure, "storing %s API key", providerName)
		}

		content, err = generateConfigYAML(providerName)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return fmerr.Errorf(fmerr.CodeConfigReadFailure, "creating config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		return fmerr.Errorf(fmerr.CodeConfigReadFailure, "writing config to %s: %w", cfgPath, err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Config written to %s\n", cfgPath)
	_, _ = fmt.Fprintln(out, "Run `funmax serve` to start the service.")
	return nil
}

// generatedConfig mirrors the config file sections that init fills in.
type generatedConfig struct {
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Storage struct {
		Backend string `yaml:"backend"`
	} `yaml:"storage"`
	Providers map[string]generatedProvider `yaml:"providers"`
	Models    struct {
		Default string `yaml:"default"`
	} `yaml:"models"`
}

type generatedProvider struct {
	APIKey string `yaml:"api_key"`
}

// generateConfigYAML produces a minimal funmax.yaml for one configured
// provider, referencing its key through the keyring.
func generateConfigYAML(providerName string) ([]byte, error) {
	var gc generatedConfig
	gc.Server.Listen = "127.0.0.1:8420"
	gc.Storage.Backend = "sqlite"
	gc.Providers = map[string]generatedProvider{
		providerName: {APIKey: fmt.Sprintf("keyring://%s/%s-api-key", serviceName, providerName)},
	}
	gc.Models.Default = defaultModelForProvider(providerName)

	body, err := yaml.Marshal(&gc)
	if err != nil {
		return nil, fmerr.Wrapf(err, fmerr.CodeCLISetupFailure, "rendering config")
	}

	header := []byte("# funmax configuration — generated by funmax init\n\n")
	return append(header, body...), nil
}

// defaultModelForProvider returns a sensible default model ref for a provider.
func defaultModelForProvider(name string) string {
	switch provider.ProviderName(name) {
	case provider.ProviderAnthropic:
		return "anthropic/claude-sonnet-4-5"
	case provider.ProviderOpenAI:
		return "openai/gpt-4o"
	case provider.ProviderOpenRouter:
		return "openrouter/anthropic/claude-sonnet-4-5"
	default:
		return name + "/default"
	}
}
