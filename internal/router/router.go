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

// Package router implements the two-phase request router from spec.md §4.5
// and §3 ("Router"): a map from static prefix to a list of built routes
// under that prefix, matched first by an exact (method, literal path)
// lookup and, failing that, by bounded-concurrency evaluation of ordered
// asynchronous path predicates.
//
// Construction (functional options, an atomic frozen flag) is grounded on
// the teacher router's
// Router type (rivaas.dev/router, router.go); the matching algorithm itself
// is new; a radix tree buys nothing for routes that are either fully
// literal or fully opaque predicates, and the teacher's tree has no
// analogue for bounded-concurrency insertion-order-winner dispatch.
package router

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

// ErrRouteCollision is returned by Insert when a literal (method, path)
// pair is already registered under the same prefix (invariant a, spec §3).
var ErrRouteCollision = errors.New("router: method and path already registered under this prefix")

// ErrFrozen is returned by Insert once the router has been frozen.
var ErrFrozen = errors.New("router: cannot insert after freeze")

// ErrNoRoute is returned by Lookup when nothing matches.
var ErrNoRoute = errors.New("router: no route matched")

// Route is a built route: a descriptor with its path matcher and handler
// already resolved. Built routes are never mutated after insertion.
type Route struct {
	// Ordinal is this route's position in the router's global insertion
	// order, used to break ties among asynchronous matchers.
	Ordinal int
	Prefix  string
	Methods []string
	Path    routespec.PathMatcher
	Handler http.Handler
	Docs    []routespec.DocItem
}

func (rt *Route) hasMethod(m string) bool {
	for _, x := range rt.Methods {
		if x == m {
			return true
		}
	}
	return false
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithPathConcurrency sets K, the maximum number of async matchers
// evaluated concurrently during phase two of Lookup. Default 10.
func WithPathConcurrency(k int) Option {
	return func(r *Router) {
		if k > 0 {
			r.pathConcurrency = k
		}
	}
}

// WithObserver registers a callback invoked once per Lookup with the
// outcome ("static_hit", "async_hit", "no_route", "error"), letting
// internal/metrics record dispatch counters without this package
// depending on Prometheus directly (SPEC_FULL.md §2 domain stack).
func WithObserver(observe func(result string)) Option {
	return func(r *Router) {
		r.observe = observe
	}
}

const defaultPathConcurrency = 10

// Router is a two-phase, insertion-order-winner request router. It is safe
// for concurrent use: Insert is serialized by an internal mutex (the build
// scheduler holds no lock of its own and relies on it, see internal/build),
// and Lookup takes only a read lock over an otherwise immutable structure
// once the router is frozen.
type Router struct {
	mu              sync.RWMutex
	frozen          atomic.Bool
	pathConcurrency int
	nextOrdinal     int
	observe         func(result string)

	prefixOrder []string
	// statics[prefix][method][path] -> route
	statics map[string]map[string]map[string]*Route
	// asyncRoutes is the single global insertion-ordered list of routes
	// with an async matcher, spanning every prefix.
	asyncRoutes []*Route
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		pathConcurrency: defaultPathConcurrency,
		statics:         make(map[string]map[string]map[string]*Route),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert adds a built route under prefix. Insertion order determines the
// route's ordinal for async-matcher tie-breaking (§4.5), so callers that
// need a specific relative order (e.g. the build scheduler processing
// descriptors in submission order) must call Insert in that order.
//
// Returns ErrFrozen if the router has been frozen, or ErrRouteCollision if
// a literal route collides with an existing (method, path) pair under the
// same prefix.
func (r *Router) Insert(route *Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrFrozen
	}

	if lit, ok := route.Path.(routespec.Literal); ok {
		path := string(lit)
		methods, ok := r.statics[route.Prefix]
		if !ok {
			methods = make(map[string]map[string]*Route)
			r.statics[route.Prefix] = methods
		}
		for _, m := range route.Methods {
			if byPath, ok := methods[m]; ok {
				if _, collide := byPath[path]; collide {
					return ErrRouteCollision
				}
			}
		}
		for _, m := range route.Methods {
			byPath, ok := methods[m]
			if !ok {
				byPath = make(map[string]*Route)
				methods[m] = byPath
			}
			byPath[path] = route
		}
	} else {
		r.asyncRoutes = append(r.asyncRoutes, route)
	}

	route.Ordinal = r.nextOrdinal
	r.nextOrdinal++

	if !r.hasPrefix(route.Prefix) {
		r.prefixOrder = append(r.prefixOrder, route.Prefix)
	}
	return nil
}

func (r *Router) hasPrefix(p string) bool {
	for _, x := range r.prefixOrder {
		if x == p {
			return true
		}
	}
	return false
}

// Freeze marks the router immutable. After Freeze, Insert always fails and
// Lookup no longer needs the write lock path.
func (r *Router) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Router) Frozen() bool {
	return r.frozen.Load()
}

// Routes returns a snapshot of every built route, in insertion order,
// regardless of matcher kind. The schema and sitemap meta-routes do not
// call it: their docs-only flat view comes from internal/build's flatView.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Route
	for _, methods := range r.statics {
		seen := make(map[*Route]bool)
		for _, byPath := range methods {
			for _, rt := range byPath {
				if !seen[rt] {
					seen[rt] = true
					all = append(all, rt)
				}
			}
		}
	}
	all = append(all, r.asyncRoutes...)
	// Stable order: ordinal is the only thing callers should rely on.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j-1].Ordinal > all[j].Ordinal; j-- {
			all[j-1], all[j] = all[j], all[j-1]
		}
	}
	return all
}

// pathOf extracts the exact path component of a request URL: everything
// before the first '?' (spec.md §4.5 step 1).
func pathOf(rawURL string) string {
	if idx := strings.IndexByte(rawURL, '?'); idx >= 0 {
		return rawURL[:idx]
	}
	return rawURL
}
