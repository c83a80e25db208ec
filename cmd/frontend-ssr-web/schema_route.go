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
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/ssrweb/frontend-ssr-web/internal/build"
	"github.com/ssrweb/frontend-ssr-web/internal/lifecycle"
	"github.com/ssrweb/frontend-ssr-web/internal/negotiate"
	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
	"github.com/ssrweb/frontend-ssr-web/internal/schema"
)

const openAPIPath = "/shared/openapi.json"

// schemaMetaRoute mounts the GET /shared/openapi.json handler. Per
// spec.md §2 and §4.9, the live server never composes the document
// itself: it only reads the cached snapshot the sibling regeneration
// process wrote under cfg.schemaDir. The flat view this MetaRouteProvider
// receives is unused here for that reason (see runRegenerateSchema, which
// calls schema.Compose/Generate from its own flat view in the sibling
// process).
func schemaMetaRoute(cfg *appConfig) build.MetaRouteProvider {
	return func(ctx context.Context, flat []routespec.DocItem, config any) (*routespec.Descriptor, error) {
		svc := schema.NewService(cfg.schemaDir)
		return &routespec.Descriptor{
			Methods: []string{http.MethodGet},
			Path:    routespec.Literal(openAPIPath),
			NewHandler: func(ctx context.Context, config any) (http.Handler, error) {
				return schemaHandler(svc), nil
			},
		}, nil
	}
}

func schemaHandler(svc *schema.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding, err := negotiate.Encoding(r.Header.Get("Accept-Encoding"), schema.Encodings)
		if err != nil {
			negotiate.WriteUnacceptableEncoding(w, schema.Encodings)
			return
		}

		data, err := svc.Snapshot(encoding)
		if err != nil {
			if errors.Is(err, schema.ErrNotReady) {
				w.Header().Set("Retry-After", "5")
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"schema not ready"}` + "\n"))
				return
			}
			lifecycle.ReportError(r.Context(), fmt.Errorf("schema: snapshot: %w", err))
			http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Vary", negotiate.VaryHeaders)
		if encoding != "identity" {
			w.Header().Set("Content-Encoding", encoding)
		}
		// data is already encoded per the negotiated coding (schema.Generate
		// writes one pre-compressed file per encoding), so the pipe is told
		// "identity" to avoid double-encoding; it still supplies the
		// write/read/content watchdog machinery every streamed response
		// goes through (spec.md §4.7).
		if err := sharedPipe.Serve(r.Context(), w, r.Body, bytes.NewReader(data), "identity"); err != nil {
			lifecycle.ReportError(r.Context(), err)
		}
	})
}

// flatDocs re-derives the docs-only flat view build.Scheduler computes
// internally (build.go's flatView) for the sibling process, which builds
// no router at all. flatView itself is unexported, so this sibling-only
// enumeration is duplicated here rather than stretching that package's
// API to serve a caller outside its own Run.
func flatDocs(ctx context.Context, entries []routespec.Entry, config any) []routespec.DocItem {
	var docs []routespec.DocItem
	for _, entry := range entries {
		if entry.Descriptor != nil {
			docs = append(docs, entry.Descriptor.Docs...)
			continue
		}
		if entry.Factory == nil {
			continue
		}
		descriptors, err := entry.Factory(ctx, config)
		if err != nil {
			continue
		}
		for _, d := range descriptors {
			docs = append(docs, d.Docs...)
		}
	}
	return docs
}

// runRegenerateSchema implements the sibling-process half of spec.md
// §4.9: reconstruct the same declarative route table docs-only, compose
// the document, and atomically publish it under every supported
// encoding. It never starts a router or a listener.
func runRegenerateSchema() int {
	dir := schemaSnapshotDir()
	ctx := context.Background()

	flat := flatDocs(ctx, []routespec.Entry{helloWorldEntry}, (*appConfig)(nil))
	doc := schema.Compose(schema.Info{Title: "frontend-ssr-web", Version: buildVersion()}, flat)
	if err := schema.Generate(dir, doc); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func buildVersion() string {
	if v, err := buildRevision(context.Background()); err == nil && v != "" {
		return v
	}
	return "dev"
}

// schemaSnapshotDir is where the sibling process writes and the live
// server reads openapi-schema.json.*: the tmp/ directory of rebuilt-on-
// demand artifacts.
func schemaSnapshotDir() string {
	return "tmp"
}
