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

package router

import (
	"context"
	"errors"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

// Lookup resolves method and the request URL to a route using the
// two-phase algorithm from spec.md §4.5:
//
//  1. Extract the path component (before the first '?').
//  2. In a single pass, test every registered prefix as a string prefix of
//     path; for each matching prefix, consult its static (method, path)
//     table. The first hit wins.
//  3. Otherwise, collect every async-matcher route across every matching
//     prefix, in their single global insertion order, and evaluate them
//     with up to K concurrent in-flight calls. The winner is the
//     earliest-by-insertion-order candidate to resolve true, never the
//     earliest-to-resolve: a later-dispatched candidate that happens to
//     finish first must not pre-empt an earlier one still in flight.
//  4. If nothing matches, ErrNoRoute.
func (r *Router) Lookup(ctx context.Context, method, rawURL string) (*Route, error) {
	path := pathOf(rawURL)

	r.mu.RLock()
	var matchingPrefixes []string
	for _, p := range r.prefixOrder {
		if len(path) >= len(p) && path[:len(p)] == p {
			matchingPrefixes = append(matchingPrefixes, p)
		}
	}

	for _, p := range matchingPrefixes {
		methods, ok := r.statics[p]
		if !ok {
			continue
		}
		byPath, ok := methods[method]
		if !ok {
			continue
		}
		if rt, ok := byPath[path]; ok {
			r.mu.RUnlock()
			r.report("static_hit")
			return rt, nil
		}
	}

	isMatchingPrefix := make(map[string]bool, len(matchingPrefixes))
	for _, p := range matchingPrefixes {
		isMatchingPrefix[p] = true
	}
	var candidates []*Route
	for _, rt := range r.asyncRoutes {
		if isMatchingPrefix[rt.Prefix] && rt.hasMethod(method) {
			candidates = append(candidates, rt)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		r.report("no_route")
		return nil, ErrNoRoute
	}

	rt, err := r.evaluate(ctx, candidates, path)
	switch {
	case err == nil:
		r.report("async_hit")
	case errors.Is(err, ErrNoRoute):
		r.report("no_route")
	default:
		r.report("error")
	}
	return rt, err
}

func (r *Router) report(result string) {
	if r.observe != nil {
		r.observe(result)
	}
}

type matchResult struct {
	pos int
	ok  bool
	err error
}

// evaluate runs candidates' async matchers with up to r.pathConcurrency
// in flight at once, enforcing insertion-order-winner semantics via a
// sliding window: position lo is always the lowest-ordinal candidate not
// yet resolved, and the window never admits position lo+K while lo itself
// is still outstanding.
func (r *Router) evaluate(ctx context.Context, candidates []*Route, path string) (*Route, error) {
	k := r.pathConcurrency
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan matchResult, len(candidates))
	pending := make(map[int]matchResult)

	dispatch := func(pos int) {
		matcher := candidates[pos].Path.(routespec.Async)
		go func() {
			ok, err := matcher(runCtx, path)
			resultCh <- matchResult{pos: pos, ok: ok, err: err}
		}()
	}

	next := 0
	for next < k {
		dispatch(next)
		next++
	}

	lo := 0
	for lo < len(candidates) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultCh:
			pending[res.pos] = res
		}

		for {
			res, ready := pending[lo]
			if !ready {
				break
			}
			delete(pending, lo)
			if res.err == nil && res.ok {
				return candidates[lo], nil
			}
			lo++
			if next < len(candidates) {
				dispatch(next)
				next++
			}
		}
	}

	return nil, ErrNoRoute
}
