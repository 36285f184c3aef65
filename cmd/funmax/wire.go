// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funmax-dev/funmax/internal/billing"
	"github.com/funmax-dev/funmax/internal/config"
	"github.com/funmax-dev/funmax/internal/provider"
	anthropicprov "github.com/funmax-dev/funmax/internal/provider/anthropic"
	openaiprov "github.com/funmax-dev/funmax/internal/provider/openai"
	openrouterprov "github.com/funmax-dev/funmax/internal/provider/openrouter"
	"github.com/funmax-dev/funmax/internal/push"
	"github.com/funmax-dev/funmax/internal/round"
	"github.com/funmax-dev/funmax/internal/server"
	"github.com/funmax-dev/funmax/internal/store"
	_ "github.com/funmax-dev/funmax/internal/store/sqlite" // register sqlite backend
	"github.com/funmax-dev/funmax/internal/sweeper"
	"github.com/funmax-dev/funmax/internal/tool"
	"github.com/funmax-dev/funmax/internal/tool/builtin"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

// deltaFlushInterval batches streamed text deltas before pushing them to
// subscribers, so slow consumers see fewer, larger frames.
const deltaFlushInterval = 200 * time.Millisecond

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Server    *server.Server
	Stores    store.Stores
	Engine    *round.Engine
	Sweeper   *sweeper.Sweeper
	Broker    *push.Broker
	Providers *provider.Registry
	Tools     *tool.Registry
}

// WireApp creates all subsystems and wires them together.
func WireApp(cfg *config.Config) (*App, error) {
	stores, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	provReg := provider.NewRegistry()
	registerBuiltinProviders(cfg, provReg)

	if err := wireRouting(cfg, provReg); err != nil {
		_ = stores.Close()
		return nil, err
	}

	toolReg := tool.NewRegistry()
	broker := push.NewBroker()
	ledger := billing.NewLedger(stores.Billing(), convertCosts(cfg.Billing.Costs))

	engine := round.NewEngine(round.Deps{
		Sessions:  stores.Sessions(),
		Messages:  stores.Messages(),
		KV:        stores.KV(),
		Router:    provReg,
		Tools:     toolReg,
		Ledger:    ledger,
		Broker:    broker,
		Debouncer: push.NewDebouncer(broker, deltaFlushInterval),
	}, round.Config{
		MaxIterations:    cfg.Round.MaxIterations,
		MaxStreamRetries: cfg.Round.MaxStreamRetries,
		StreamRetryDelay: cfg.Round.StreamRetryDelay,
		StreamTimeout:    cfg.Round.StreamTimeout,
		PauseTTL:         cfg.Round.PauseTTL,
		SystemPrompt:     cfg.Round.SystemPrompt,
	})

	if err := registerBuiltinTools(toolReg, engine.Signals()); err != nil {
		_ = stores.Close()
		return nil, err
	}

	sw := sweeper.New(stores.KV(), engine, sweeper.Config{
		Schedule:     cfg.Sweeper.Schedule,
		AbandonAfter: cfg.Sweeper.AbandonAfter,
	})

	if cfg.Server.AuthToken == "" {
		slog.Warn("authentication disabled: no auth token configured — all endpoints are unauthenticated")
	}

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
		AuthToken:   cfg.Server.AuthToken,
	}, server.Deps{
		Sessions: stores.Sessions(),
		Messages: stores.Messages(),
		Engine:   engine,
		Broker:   broker,
	})
	if err != nil {
		_ = stores.Close()
		return nil, fmerr.Wrapf(err, fmerr.CodeCLISetupFailure, "creating server")
	}

	return &App{
		Server:    srv,
		Stores:    stores,
		Engine:    engine,
		Sweeper:   sw,
		Broker:    broker,
		Providers: provReg,
		Tools:     toolReg,
	}, nil
}

// Start runs the HTTP server and the sweeper, blocking until the context is
// cancelled or one of them fails.
func (a *App) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Server.Start(ctx)
	})

	g.Go(func() error {
		if err := a.Sweeper.Start(); err != nil {
			return err
		}
		<-ctx.Done()
		a.Sweeper.Stop()
		return nil
	})

	return g.Wait()
}

// Close releases all resources held by the app. Lanes drain before the
// stores close so in-flight episodes finish their writes.
func (a *App) Close() error {
	var errs []error
	if err := a.Engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Broker.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Providers.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Stores.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmerr.Join(errs...)
	}
	return nil
}

// openStores opens the configured backend, resolving the default sqlite
// location under the data dir when no explicit path is set.
func openStores(cfg *config.Config) (store.Stores, error) {
	storeCfg := &store.Config{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path}

	if storeCfg.Backend == "sqlite" && storeCfg.Path == "" {
		dataDir, err := config.DefaultDataDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmerr.Errorf(fmerr.CodeCLISetupFailure, "creating data directory: %w", err)
		}
		storeCfg.Path = filepath.Join(dataDir, "funmax.db")
	}

	stores, err := store.Open(storeCfg)
	if err != nil {
		return nil, fmerr.Wrapf(err, fmerr.CodeCLISetupFailure, "opening %s store", storeCfg.Backend)
	}
	return stores, nil
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject failing factories.
var builtinProviderFactories = map[string]providerFactory{
	"anthropic": func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openai": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openrouter": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openrouterprov.New(openrouterprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
}

// registerBuiltinProviders iterates configured providers and registers
// matching built-in implementations. Unknown names or empty API keys are
// logged and skipped — neither is fatal at startup.
func registerBuiltinProviders(cfg *config.Config, reg *provider.Registry) {
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			slog.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		reg.Register(name, p)
		slog.Info("registered provider", "provider", name)
	}
}

// wireRouting applies the default model and failover chain from config.
// A default whose provider is not configured is logged and skipped, so a
// fresh install with no API keys still starts; routing then reports
// no-default until a provider is added.
func wireRouting(cfg *config.Config, reg *provider.Registry) error {
	if cfg.Models.Default != "" {
		if err := reg.SetDefault(cfg.Models.Default); err != nil {
			if !fmerr.HasCode(err, fmerr.CodeProviderNotFound) {
				return fmerr.Wrapf(err, fmerr.CodeCLISetupFailure, "setting default model %s", cfg.Models.Default)
			}
			slog.Warn("default model provider not configured, routing disabled until a provider is added",
				"model", cfg.Models.Default)
		}
	}

	var chain []string
	for _, ref := range cfg.Models.Failover {
		provName := ref
		if idx := strings.Index(ref, "/"); idx > 0 {
			provName = ref[:idx]
		}
		if _, err := reg.Get(provName); err != nil {
			slog.Warn("skipping failover model with unconfigured provider", "model", ref)
			continue
		}
		chain = append(chain, ref)
	}
	if len(chain) > 0 {
		if err := reg.SetFailover(chain); err != nil {
			return fmerr.Wrapf(err, fmerr.CodeCLISetupFailure, "setting failover chain")
		}
	}

	return nil
}

// registerBuiltinTools installs the built-in tool set. The completion tool
// gets the engine's signal store so models can end episodes explicitly.
func registerBuiltinTools(reg *tool.Registry, signals tool.Signaller) error {
	tools := []tool.Tool{
		builtin.NewClockTool(),
		builtin.NewWebSearchTool(),
		builtin.NewCompleteTool(signals),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return fmerr.Wrapf(err, fmerr.CodeCLISetupFailure, "registering tool %s", t.Name())
		}
	}
	return nil
}

// convertCosts turns the config's USD-per-MTok prices into the ledger's
// micro-USD integers.
func convertCosts(costs map[string]config.ModelCostConfig) map[string]billing.ModelCost {
	out := make(map[string]billing.ModelCost, len(costs))
	for model, c := range costs {
		out[model] = billing.ModelCost{
			InputPerMTok:  int64(c.InputPerMTokUSD * 1_000_000),
			OutputPerMTok: int64(c.OutputPerMTokUSD * 1_000_000),
		}
	}
	return out
}
