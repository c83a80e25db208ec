// Copyright 2025 The Frontend SSR Web Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command frontend-ssr-web is the server entrypoint: it assembles every
// internal package into the running process described by spec.md §1-2,
// or, in schema-regeneration mode, builds the same declarative route
// table docs-only and writes a fresh OpenAPI snapshot before exiting.
//
// Grounded on the teacher's app/examples/01-quick-start (signal-driven
// context, app.New/a.Start shape), generalized from one call into the
// full config/logging/metrics/router/build/lifecycle wiring this spec
// needs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"go.opentelemetry.io/otel"

	"github.com/ssrweb/frontend-ssr-web/internal/config"
	"github.com/ssrweb/frontend-ssr-web/internal/logging"
)

// regenerateSchemaFlag selects the sibling-process mode from spec.md
// §4.9: "fork a sibling process invoking this same binary in 'regenerate
// schema' mode." It is deliberately not part of the public flag surface
// FlagSet documents; only the parent process's own exec.Command invokes
// it.
const regenerateSchemaFlag = "--internal-regenerate-schema"

func main() {
	for _, arg := range os.Args[1:] {
		if arg == regenerateSchemaFlag {
			os.Exit(runRegenerateSchema())
		}
	}
	os.Exit(runServer())
}

func runServer() int {
	fs, cfg := config.FlagSet("frontend-ssr-web")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logOpt := logging.WithJSONHandler()
	if cfg.IsDev() {
		logOpt = logging.WithConsoleHandler()
	}
	logger := logging.MustNew(logOpt)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.LogError(err, "server exited with error")
		return 1
	}
	return 0
}
