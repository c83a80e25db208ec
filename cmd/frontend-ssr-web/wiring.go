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

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/ssrweb/frontend-ssr-web/internal/build"
	"github.com/ssrweb/frontend-ssr-web/internal/config"
	"github.com/ssrweb/frontend-ssr-web/internal/integrations"
	"github.com/ssrweb/frontend-ssr-web/internal/lifecycle"
	"github.com/ssrweb/frontend-ssr-web/internal/logging"
	"github.com/ssrweb/frontend-ssr-web/internal/metrics"
	"github.com/ssrweb/frontend-ssr-web/internal/router"
	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
	"github.com/ssrweb/frontend-ssr-web/internal/schema"
	"github.com/ssrweb/frontend-ssr-web/internal/sentinel"
	"github.com/ssrweb/frontend-ssr-web/internal/update"
	"github.com/ssrweb/frontend-ssr-web/internal/webhook"
)

// sentinelMasterName and sentinelQuorum parameterize KV primary discovery
// (spec.md §4.2); the spec leaves the sentinel-monitored master group
// name and quorum size as deployment constants rather than CLI flags, so
// they are fixed here at the integration boundary instead of threaded
// through internal/config.
const (
	sentinelMasterName = "frontend-ssr-web"
	sentinelQuorum     = 1
)

const (
	buildHashKey     = "builds:frontend-ssr-web:hash"
	updatesChannel   = "updates:frontend-ssr-web"
	updateLockKey    = "updates:frontend-ssr-web:lock"
)

// run assembles every package into the running process (spec.md §1-2):
// config and logging are already resolved by the caller; this builds
// metrics, the router and build scheduler, the declarative route table,
// the update coordinator, and the four-step lifecycle server, then blocks
// until ctx is canceled or the coordinator's steady-state loop returns,
// and shuts the server down. With --no-serve it returns right after the
// build.
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	metricsReg := metrics.New()
	alerter := webhook.New(cfg.WebhookURLs)

	sentinels := parseSentinels(cfg.RedisSentinels)
	sentinelCfg := sentinel.Config{
		MasterName: sentinelMasterName,
		Quorum:     sentinelQuorum,
		Observe: func(outcome string) {
			metricsReg.SentinelAttempts.WithLabelValues(outcome).Inc()
		},
	}

	var dbConnURL string
	if len(cfg.RQLiteAddrs) > 0 {
		dbConnURL = cfg.RQLiteAddrs[0]
	}

	appCfg := &appConfig{
		logger:  logger,
		metricsReg: metricsReg,
		alerter: alerter,
		integrationsCfg: integrations.Config{
			DBConnURL:      dbConnURL,
			Sentinels:      sentinels,
			SentinelConfig: sentinelCfg,
		},
		schemaDir:      schemaSnapshotDir(),
		sitemapBaseURL: cfg.RootFrontendURL,
	}

	if !cfg.ReuseArtifacts {
		if err := schema.Sweep(appCfg.schemaDir); err != nil {
			logger.LogError(err, "schema: sweep failed, continuing")
		}
		spawnSchemaRegeneration(logger)
	}

	rtr := router.New(
		router.WithPathConcurrency(cfg.PathResolveParallelism),
		router.WithObserver(func(result string) {
			metricsReg.RouterLookups.WithLabelValues(result).Inc()
		}),
	)

	scheduler := build.New(rtr,
		build.WithConcurrency(cfg.BuildParallelism),
		build.WithSlotObserver(func(delta int) {
			if delta > 0 {
				metricsReg.BuildSlotsInUse.Inc()
			} else {
				metricsReg.BuildSlotsInUse.Dec()
			}
		}),
		build.WithInsertObserver(func() {
			metricsReg.BuildRoutesInserted.Inc()
		}),
	)

	entries := []routespec.Entry{helloWorldEntry}
	metaProviders := []build.MetaRouteProvider{schemaMetaRoute(appCfg), sitemapMetaRoute(appCfg)}
	if err := scheduler.Run(ctx, entries, metaProviders, appCfg); err != nil {
		return fmt.Errorf("build: %w", err)
	}

	if cfg.NoServe {
		return nil
	}

	coordinator := update.New(update.Config{
		Sentinels:      sentinels,
		SentinelConfig: sentinelCfg,
		BuildHashKey:   buildHashKey,
		UpdatesChannel: updatesChannel,
		LockKey:        updateLockKey,
		Dev:            cfg.IsDev(),
		Revision:       buildRevision,
		Rebuild:        buildRebuild,
		Restart:        buildRestart,
	}, logger)

	if err := coordinator.AcquireLocalLock(); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	defer func() {
		if err := coordinator.ReleaseLocalLock(); err != nil {
			logger.LogError(err, "update: release local lock failed")
		}
	}()

	if err := coordinator.Startup(ctx); err != nil {
		if errors.Is(err, update.ErrRebuildRequired) {
			// buildRestart either replaced this process image already (the
			// success path never returns here) or failed, in which case
			// Startup already wrapped and returned that error above.
			return nil
		}
		return fmt.Errorf("update: startup: %w", err)
	}

	rd := &readiness{}
	httpServer := &http.Server{Addr: cfg.Addr()}
	lcServer := lifecycle.NewServer(httpServer, logger, alerter)
	middleware := &lifecycle.Middleware{Registry: lcServer.Registry, Logger: logger, Alerter: alerter}
	httpServer.Handler = middleware.Handler(newMux(rtr, metricsReg.Handler(), healthzHandler(), readyzHandler(rd)))

	if err := lcServer.Start(ctx); err != nil {
		return fmt.Errorf("lifecycle: start: %w", err)
	}
	rd.markReady()
	logger.Info("listening", "addr", cfg.Addr(), "tls", cfg.TLSEnabled())

	steadyErrCh := make(chan error, 1)
	go func() { steadyErrCh <- coordinator.SteadyState(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-steadyErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.LogError(err, "update: steady-state loop exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return lcServer.Shutdown(shutdownCtx)
}

// parseSentinels turns "host:port" strings (spec.md §6's REDIS_IPS) into
// sentinel.Endpoint values.
func parseSentinels(addrs []string) []sentinel.Endpoint {
	out := make([]sentinel.Endpoint, 0, len(addrs))
	for _, addr := range addrs {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			continue
		}
		out = append(out, sentinel.Endpoint{Host: host, Port: port})
	}
	return out
}

// spawnSchemaRegeneration forks the sibling process from spec.md §4.9.
// It runs in the background: the live server only ever reads finished
// snapshot files (schemaHandler), so nothing here blocks startup.
func spawnSchemaRegeneration(logger *logging.Logger) {
	exe, err := os.Executable()
	if err != nil {
		logger.LogError(err, "schema: resolve executable for sibling process")
		return
	}
	go func() {
		cmd := exec.Command(exe, regenerateSchemaFlag)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			logger.LogError(err, "schema: sibling regeneration process failed")
		}
	}()
}
