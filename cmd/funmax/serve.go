// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/funmax-dev/funmax/internal/config"
	"github.com/funmax-dev/funmax/internal/secrets"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the funmax service",
		Long:  "Load configuration, wire all subsystems, and serve the HTTP API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath := resolveConfigPath(cmd)
	if cfgPath != "" {
		config.WarnInsecurePermissions(cfgPath)
	}

	cfg, err := config.LoadWithSecrets(cfgPath, secrets.NewKeyringStore())
	if err != nil {
		return err
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	app, err := WireApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting funmax", "listen", cfg.Server.Listen, "storage", cfg.Storage.Backend)

	runErr := app.Start(ctx)
	if closeErr := app.Close(); closeErr != nil {
		slog.Error("shutdown cleanup failed", "error", closeErr)
	}
	return runErr
}
