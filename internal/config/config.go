// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

// Package config loads and validates the funmax configuration from YAML,
// environment variables (FUNMAX_ prefix), and built-in defaults.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/funmax-dev/funmax/internal/secrets"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// Config is the top-level funmax configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    ModelsConfig              `mapstructure:"models"`
	Round     RoundConfig               `mapstructure:"round"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Billing   BillingConfig             `mapstructure:"billing"`
	Sweeper   SweeperConfig             `mapstructure:"sweeper"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	AuthToken   string   `mapstructure:"auth_token"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider. The
// api_key value may be a literal, a ${ENV} reference, or a keyring:// URI.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection and failover.
type ModelsConfig struct {
	Default  string   `mapstructure:"default"`
	Failover []string `mapstructure:"failover"`
}

// RoundConfig tunes the round engine.
type RoundConfig struct {
	MaxIterations    int64         `mapstructure:"max_iterations"`
	MaxStreamRetries int           `mapstructure:"max_stream_retries"`
	StreamRetryDelay time.Duration `mapstructure:"stream_retry_delay"`
	StreamTimeout    time.Duration `mapstructure:"stream_timeout"`
	PauseTTL         time.Duration `mapstructure:"pause_ttl"`
	SystemPrompt     string        `mapstructure:"system_prompt"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// BillingConfig carries the per-model cost table. Prices are USD per million
// tokens; unlisted models are not billed.
type BillingConfig struct {
	Costs map[string]ModelCostConfig `mapstructure:"costs"`
}

// ModelCostConfig prices one model.
type ModelCostConfig struct {
	InputPerMTokUSD  float64 `mapstructure:"input_per_mtok_usd"`
	OutputPerMTokUSD float64 `mapstructure:"output_per_mtok_usd"`
}

// SweeperConfig schedules background expiry.
type SweeperConfig struct {
	Schedule     string        `mapstructure:"schedule"`
	AbandonAfter time.Duration `mapstructure:"abandon_after"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithSecrets is Load plus secret-reference resolution: ${ENV} and
// keyring:// values anywhere in the config are replaced before unmarshalling.
func LoadWithSecrets(path string, store secrets.Store) (*Config, error) {
	return load(path, store)
}

func load(path string, store secrets.Store) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.listen", "127.0.0.1:8420")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("models.default", "anthropic/claude-sonnet-4-5")
	v.SetDefault("round.max_iterations", 20)
	v.SetDefault("round.max_stream_retries", 3)
	v.SetDefault("round.stream_retry_delay", "2s")
	v.SetDefault("round.stream_timeout", "5m")
	v.SetDefault("round.pause_ttl", "30m")
	v.SetDefault("sweeper.schedule", "@every 5m")
	v.SetDefault("sweeper.abandon_after", "30m")

	v.SetEnvPrefix("FUNMAX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmerr.Errorf(fmerr.CodeConfigReadFailure, "reading config %s: %w", path, err)
		}
	}

	if store != nil {
		secrets.ResolveViperSecrets(v, store)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmerr.Errorf(fmerr.CodeConfigInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmerr.Errorf(fmerr.CodeConfigInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found, collecting issues rather than stopping at the
// first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateRound()...)
	errs = append(errs, c.validateBilling()...)
	errs = append(errs, c.validateSweeper()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue, "config: models.default must not be empty"))
	} else if !strings.Contains(c.Models.Default, "/") {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: models.default must be in \"provider/model\" format, got %q",
			c.Models.Default,
		))
	} else if c.Providers != nil {
		// Cross-reference providers only when the section exists; defaults
		// on a fresh install carry no providers and that is valid.
		providerName := providerFromModel(c.Models.Default)
		if _, ok := c.Providers[providerName]; !ok {
			errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
				"config: models.default %q references provider %q which is not configured",
				c.Models.Default, providerName,
			))
		}
	}

	for i, model := range c.Models.Failover {
		if !strings.Contains(model, "/") {
			errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
				"config: models.failover[%d] must be in \"provider/model\" format, got %q",
				i, model,
			))
			continue
		}
		if c.Providers != nil {
			providerName := providerFromModel(model)
			if _, ok := c.Providers[providerName]; !ok {
				errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
					"config: models.failover[%d] %q references provider %q which is not configured",
					i, model, providerName,
				))
			}
		}
	}

	return errs
}

func (c *Config) validateRound() []error {
	var errs []error

	if c.Round.MaxIterations <= 0 {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: round.max_iterations must be greater than 0, got %d", c.Round.MaxIterations))
	}
	if c.Round.MaxStreamRetries < 0 {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: round.max_stream_retries must not be negative, got %d", c.Round.MaxStreamRetries))
	}
	if c.Round.StreamTimeout <= 0 {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: round.stream_timeout must be greater than 0, got %s", c.Round.StreamTimeout))
	}
	if c.Round.PauseTTL <= 0 {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: round.pause_ttl must be greater than 0, got %s", c.Round.PauseTTL))
	}

	return errs
}

func (c *Config) validateBilling() []error {
	var errs []error

	for model, cost := range c.Billing.Costs {
		if !strings.Contains(model, "/") {
			errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
				"config: billing.costs key %q must be in \"provider/model\" format", model))
		}
		if cost.InputPerMTokUSD < 0 || cost.OutputPerMTokUSD < 0 {
			errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
				"config: billing.costs[%q] prices must not be negative", model))
		}
	}

	return errs
}

func (c *Config) validateSweeper() []error {
	var errs []error

	if c.Sweeper.Schedule == "" {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue, "config: sweeper.schedule must not be empty"))
	}
	if c.Sweeper.AbandonAfter <= 0 {
		errs = append(errs, fmerr.Errorf(fmerr.CodeConfigInvalidValue,
			"config: sweeper.abandon_after must be greater than 0, got %s", c.Sweeper.AbandonAfter))
	}

	return errs
}

// providerFromModel extracts the provider prefix from a "provider/model" string.
func providerFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}
