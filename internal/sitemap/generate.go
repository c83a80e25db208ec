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

package sitemap

import (
	"context"
	"time"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

// Generator produces sitemap entries by pushing batches to push, in the
// shape every routespec.DocItem.SitemapEntries already has.
type Generator func(ctx context.Context, push func(context.Context, []routespec.SitemapEntry) error) error

// RunGenerators drives generators one at a time — never concurrently,
// per spec.md §4.8 — handing each the rendezvous's Push method, then
// closes the rendezvous once the last generator returns. A generator
// returning an error stops the run; the rendezvous is still closed so the
// consumer does not block forever.
func RunGenerators(ctx context.Context, gens []Generator, r *Rendezvous) error {
	var runErr error
	for _, g := range gens {
		if g == nil {
			continue
		}
		if err := g(ctx, r.Push); err != nil {
			runErr = err
			break
		}
	}
	if err := r.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Store is the database collaborator the encoder consults per entry:
// whether a path's fingerprint is already known, and where to persist a
// new or changed one.
type Store interface {
	// Lookup reports the last stored fingerprint and its updated_at for
	// path, or ok=false if path has never been seen.
	Lookup(ctx context.Context, path string) (fingerprint [64]byte, updatedAt time.Time, ok bool, err error)
	// Upsert inserts or updates path's stored fingerprint and updatedAt.
	Upsert(ctx context.Context, path string, fingerprint [64]byte, updatedAt time.Time) error
}

// Result is one encoded sitemap entry with its resolved lastmod.
type Result struct {
	Path    string
	Lastmod time.Time
	Action  Action
}

// Action classifies what Encode did for one entry, for metrics/logging.
type Action int

const (
	ActionSkip Action = iota
	ActionInsert
	ActionUpdate
)

// Encode reads every batch from r until closed, resolving each entry's
// lastmod per spec.md §4.8: the stored updated_at if the fingerprint
// matched, otherwise now(). Entries whose fingerprint changed (or are new)
// are upserted; unchanged entries are left alone.
func Encode(ctx context.Context, r *Rendezvous, store Store, now func() time.Time) ([]Result, error) {
	var results []Result
	for {
		batch, ok, err := r.Read(ctx)
		if err != nil {
			return results, err
		}
		if !ok {
			return results, nil
		}
		for _, e := range batch {
			res, err := resolveEntry(ctx, store, e, now())
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
	}
}

func resolveEntry(ctx context.Context, store Store, e routespec.SitemapEntry, now time.Time) (Result, error) {
	storedFP, storedAt, exists, err := store.Lookup(ctx, e.Path)
	if err != nil {
		return Result{}, err
	}
	if exists && storedFP == e.Fingerprint {
		return Result{Path: e.Path, Lastmod: storedAt, Action: ActionSkip}, nil
	}
	if err := store.Upsert(ctx, e.Path, e.Fingerprint, now); err != nil {
		return Result{}, err
	}
	action := ActionInsert
	if exists {
		action = ActionUpdate
	}
	return Result{Path: e.Path, Lastmod: now, Action: action}, nil
}
