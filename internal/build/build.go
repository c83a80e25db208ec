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

// Package build implements the artifact build scheduler from spec.md §4.6:
// it realizes a declarative table of route descriptors into built routes
// and inserts them into a router.Router, bounding how many realizations run
// concurrently and serializing the one thing that must never race, router
// mutation.
//
// Grounded on the teacher router's Warmup/pendingRoutes/warmupOnce
// deferred-registration machinery (router/router.go): routes are declared
// before the router goes live, then frozen. Build generalizes "defer until
// Warmup" into "bounded-parallel realize, then insert under lock." Bounded
// concurrency is golang.org/x/sync/errgroup's SetLimit, the same mechanism
// the rest of the pack uses for worker-pool fan-out; this blocks acquiring
// goroutines on a channel rather than spinning, satisfying the "no thread
// spins" requirement without a hand-rolled semaphore.
package build

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ssrweb/frontend-ssr-web/internal/router"
	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

// MetaRouteProvider builds a route descriptor from the flat view of every
// already-built route's documentation, e.g. the schema or sitemap
// meta-routes (spec.md §4.6 "Termination"). It is invoked after every
// other entry has been realized and inserted.
type MetaRouteProvider func(ctx context.Context, flat []routespec.DocItem, config any) (*routespec.Descriptor, error)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets B, the maximum number of descriptors realized
// concurrently. Default 1.
func WithConcurrency(b int) Option {
	return func(s *Scheduler) {
		if b > 0 {
			s.concurrency = b
		}
	}
}

// WithSlotObserver registers a callback invoked with the delta (+1 when a
// slot is claimed, -1 when released) every time the scheduler starts or
// finishes realizing one entry, letting internal/metrics track slot
// occupancy as a gauge (SPEC_FULL.md §2, §3 "Metrics endpoint").
func WithSlotObserver(observe func(delta int)) Option {
	return func(s *Scheduler) {
		s.observeSlot = observe
	}
}

// WithInsertObserver registers a callback invoked once per route
// successfully inserted into the router.
func WithInsertObserver(observe func()) Option {
	return func(s *Scheduler) {
		s.observeInsert = observe
	}
}

const defaultConcurrency = 1

// Scheduler realizes a declarative route table into a router.Router.
// router.Insert takes its own lock, so Scheduler itself holds no lock:
// serializing router mutation is entirely router.Router's concern.
type Scheduler struct {
	router        *router.Router
	concurrency   int
	observeSlot   func(delta int)
	observeInsert func()
}

// New creates a Scheduler that inserts built routes into r.
func New(r *router.Router, opts ...Option) *Scheduler {
	s := &Scheduler{router: r, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run realizes every entry, inserts the result into the router, then
// submits the meta-route providers (in order) against a docs-only flat
// view of everything built so far, and finally freezes the router.
//
// On any realization failure the whole run fails; already-inserted routes
// remain in the router but the caller should treat the router as unusable
// (its process is expected to exit on build failure per spec.md §5).
func (s *Scheduler) Run(ctx context.Context, entries []routespec.Entry, metaProviders []MetaRouteProvider, config any) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)

	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			if s.observeSlot != nil {
				s.observeSlot(1)
				defer s.observeSlot(-1)
			}
			return s.realizeEntry(gctx, entry, config)
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("build: %w", err)
	}

	flat := s.flatView(ctx, entries, config)
	for _, provider := range metaProviders {
		desc, err := provider(ctx, flat, config)
		if err != nil {
			return fmt.Errorf("build: meta-route: %w", err)
		}
		if desc == nil {
			continue
		}
		if err := s.realizeDescriptor(ctx, "", *desc, config); err != nil {
			return fmt.Errorf("build: meta-route: %w", err)
		}
	}

	s.router.Freeze()
	return nil
}

// realizeEntry realizes one (prefix, descriptor-or-factory) pair. Factory
// results are realized sequentially within this call, never recursively
// claiming a new concurrency slot, so a factory that yields N descriptors
// cannot deadlock the scheduler by exhausting every slot on sub-work
// dispatched from inside an already-held slot.
func (s *Scheduler) realizeEntry(ctx context.Context, entry routespec.Entry, config any) error {
	if entry.Descriptor != nil {
		return s.realizeDescriptor(ctx, entry.Prefix, *entry.Descriptor, config)
	}
	if entry.Factory == nil {
		return fmt.Errorf("build: entry for prefix %q has neither descriptor nor factory", entry.Prefix)
	}
	descriptors, err := entry.Factory(ctx, config)
	if err != nil {
		return fmt.Errorf("build: factory for prefix %q: %w", entry.Prefix, err)
	}
	for _, d := range descriptors {
		if err := s.realizeDescriptor(ctx, entry.Prefix, d, config); err != nil {
			return err
		}
	}
	return nil
}

// realizeDescriptor runs the descriptor's handler factory and inserts the
// resulting built route into the router.
func (s *Scheduler) realizeDescriptor(ctx context.Context, prefix string, d routespec.Descriptor, config any) error {
	handler, err := d.NewHandler(ctx, config)
	if err != nil {
		return fmt.Errorf("build: realize handler for prefix %q: %w", prefix, err)
	}
	route := &router.Route{
		Prefix:  prefix,
		Methods: d.Methods,
		Path:    d.Path,
		Handler: handler,
		Docs:    d.Docs,
	}
	if err := s.router.Insert(route); err != nil {
		return fmt.Errorf("build: insert route for prefix %q: %w", prefix, err)
	}
	if s.observeInsert != nil {
		s.observeInsert()
	}
	return nil
}

// flatView re-runs every entry's declarative shape in docs-only mode: it
// calls factories (they are declarative, so re-invoking them to enumerate
// their descriptors has no observable side effect beyond the work they
// already chose to do) but never calls a handler factory, since handler
// construction is exactly the side-effecting step docs-only mode must
// avoid. Errors from a factory are swallowed; a meta-route must not be
// able to fail the whole build by failing to document one entry.
func (s *Scheduler) flatView(ctx context.Context, entries []routespec.Entry, config any) []routespec.DocItem {
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
