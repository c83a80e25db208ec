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
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ssrweb/frontend-ssr-web/internal/build"
	"github.com/ssrweb/frontend-ssr-web/internal/lifecycle"
	"github.com/ssrweb/frontend-ssr-web/internal/negotiate"
	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
	"github.com/ssrweb/frontend-ssr-web/internal/sitemap"
)

const sitemapPath = "/shared/sitemap"

var sitemapOffers = []string{"text/xml", "text/plain", "text/csv"}

// memSitemapStore is the sitemap.Store this binary wires in: a process-
// lifetime map keyed by path. The persistence contract (fingerprint +
// updated_at per path, spec.md §3 "Sitemap persistence row") is real and
// exercised end to end; only the backing store is in-memory rather than
// the external database, since durable cross-restart persistence is the
// kind of "database queries" business logic SPEC_FULL.md's Non-goals
// leave to the handler content this server does not implement.
type memSitemapStore struct {
	mu   sync.Mutex
	rows map[string]sitemapRow
}

type sitemapRow struct {
	fingerprint [64]byte
	updatedAt   time.Time
}

func newMemSitemapStore() *memSitemapStore {
	return &memSitemapStore{rows: make(map[string]sitemapRow)}
}

func (s *memSitemapStore) Lookup(ctx context.Context, path string) ([64]byte, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[path]
	if !ok {
		return [64]byte{}, time.Time{}, false, nil
	}
	return row.fingerprint, row.updatedAt, true, nil
}

func (s *memSitemapStore) Upsert(ctx context.Context, path string, fingerprint [64]byte, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[path] = sitemapRow{fingerprint: fingerprint, updatedAt: updatedAt}
	return nil
}

// sitemapMetaRoute mounts GET /shared/sitemap, driving every docs-only
// SitemapEntries generator at request time (spec.md §2: "C8 is used by
// the sitemap route"), unlike the schema meta-route which only reads a
// file the sibling process already wrote.
func sitemapMetaRoute(cfg *appConfig) build.MetaRouteProvider {
	return func(ctx context.Context, flat []routespec.DocItem, config any) (*routespec.Descriptor, error) {
		var gens []sitemap.Generator
		for _, item := range flat {
			if item.SitemapEntries != nil {
				gens = append(gens, sitemap.Generator(item.SitemapEntries))
			}
		}
		store := newMemSitemapStore()
		return &routespec.Descriptor{
			Methods: []string{http.MethodGet},
			Path:    routespec.Literal(sitemapPath),
			NewHandler: func(ctx context.Context, config any) (http.Handler, error) {
				return sitemapHandler(cfg, gens, store), nil
			},
		}, nil
	}
}

func sitemapHandler(cfg *appConfig, gens []sitemap.Generator, store sitemap.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format, err := negotiate.Media(r.Header.Get("Accept"), sitemapOffers)
		if err != nil {
			negotiate.WriteNotAcceptable(w, sitemapOffers)
			return
		}
		encoding, err := negotiate.Encoding(r.Header.Get("Accept-Encoding"), sitemapEncodings)
		if err != nil {
			negotiate.WriteUnacceptableEncoding(w, sitemapEncodings)
			return
		}

		pr, pw := io.Pipe()
		go func() {
			err := renderSitemap(r.Context(), gens, store, format, cfg.sitemapBaseURL, pw)
			_ = pw.CloseWithError(err)
		}()

		w.Header().Set("Content-Type", sitemapContentType(format))
		w.Header().Set("Vary", negotiate.VaryHeaders)
		if encoding != "identity" {
			w.Header().Set("Content-Encoding", encoding)
		}
		if err := sharedPipe.Serve(r.Context(), w, r.Body, pr, encoding); err != nil {
			lifecycle.ReportError(r.Context(), err)
		}
	})
}

var sitemapEncodings = []string{"gzip", "deflate", "br", "identity"}

func sitemapContentType(format string) string {
	switch format {
	case "text/xml":
		return "text/xml; charset=utf-8"
	case "text/csv":
		return "text/csv; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// renderSitemap runs every generator against the rendezvous (spec.md
// §4.8), encodes the results against store, and formats them into w per
// the negotiated media type. The generator/encoder pair runs
// concurrently with the caller streaming w's other end to the client, so
// a slow generator cannot stall the response's first bytes beyond the
// content timeout stream.Pipe already enforces.
func renderSitemap(ctx context.Context, gens []sitemap.Generator, store sitemap.Store, format, baseURL string, w io.Writer) error {
	r := sitemap.NewRendezvous()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sitemap.RunGenerators(ctx, gens, r) }()

	results, encodeErr := sitemap.Encode(ctx, r, store, time.Now)
	runErr := <-runErrCh
	if encodeErr != nil {
		return encodeErr
	}
	if runErr != nil {
		return runErr
	}

	switch format {
	case "text/xml":
		return sitemap.WriteXML(w, baseURL, results)
	case "text/csv":
		return sitemap.WriteCSV(w, results)
	default:
		return sitemap.WritePlain(w, baseURL, results)
	}
}
