// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/funmax-dev/funmax/internal/server"
	"github.com/funmax-dev/funmax/internal/store"
	fmerr "github.com/funmax-dev/funmax/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI spec that huma generates from the Go type annotations.
func generateSpec() ([]byte, error) {
	// In-memory stores and a no-op runner so all routes register for schema
	// discovery. Handlers are never invoked during spec generation.
	stores := store.NewMemoryStores()

	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
	}, server.Deps{
		Sessions: stores,
		Messages: stores,
		Engine:   noopRunner{},
	})
	if err != nil {
		return nil, fmerr.Wrapf(err, fmerr.CodeCLISetupFailure, "creating server")
	}

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// noopRunner satisfies server.EpisodeRunner for spec generation. Methods are
// never called.
type noopRunner struct{}

func (noopRunner) Run(context.Context, string, string) error { return nil }
func (noopRunner) Cancel(context.Context, string) error      { return nil }
func (noopRunner) Resume(context.Context, string, string, []store.ToolResult) error {
	return nil
}
