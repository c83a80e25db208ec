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
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

func literalRoute(prefix, path string, h http.Handler) *Route {
	return &Route{Prefix: prefix, Methods: []string{http.MethodGet}, Path: routespec.Literal(path), Handler: h}
}

func asyncRoute(prefix string, matcher routespec.Async) *Route {
	return &Route{Prefix: prefix, Methods: []string{http.MethodGet}, Path: matcher}
}

var noopHandler = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

func TestRouter_LiteralRouteHit(t *testing.T) {
	r := New()
	target := literalRoute("", "/hello", noopHandler)
	require.NoError(t, r.Insert(target))

	got, err := r.Lookup(context.Background(), http.MethodGet, "/hello?x=1")
	require.NoError(t, err)
	assert.Same(t, target, got)
}

func TestRouter_LiteralMissFallsThroughToNoRoute(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(literalRoute("", "/hello", noopHandler)))

	_, err := r.Lookup(context.Background(), http.MethodGet, "/other")
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouter_InsertCollisionSameMethodAndPath(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(literalRoute("", "/dup", noopHandler)))
	err := r.Insert(literalRoute("", "/dup", noopHandler))
	assert.ErrorIs(t, err, ErrRouteCollision)
}

func TestRouter_InsertAfterFreezeFails(t *testing.T) {
	r := New()
	r.Freeze()
	err := r.Insert(literalRoute("", "/late", noopHandler))
	assert.ErrorIs(t, err, ErrFrozen)
}

// TestRouter_InsertionOrderWinner exercises spec.md §8's "insertion order
// winner" scenario: the second-inserted async matcher resolves first, but
// the first-inserted matcher still wins because it eventually resolves
// true and nothing of lower ordinal remains outstanding once it does.
func TestRouter_InsertionOrderWinner(t *testing.T) {
	r := New(WithPathConcurrency(2))

	first := asyncRoute("", func(ctx context.Context, path string) (bool, error) {
		time.Sleep(30 * time.Millisecond)
		return true, nil
	})
	second := asyncRoute("", func(ctx context.Context, path string) (bool, error) {
		time.Sleep(5 * time.Millisecond)
		return true, nil
	})

	require.NoError(t, r.Insert(first))
	require.NoError(t, r.Insert(second))

	got, err := r.Lookup(context.Background(), http.MethodGet, "/anything")
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestRouter_InsertionOrderWinnerSkipsFalseEarlierCandidate(t *testing.T) {
	r := New(WithPathConcurrency(2))

	first := asyncRoute("", func(ctx context.Context, path string) (bool, error) {
		time.Sleep(10 * time.Millisecond)
		return false, nil
	})
	second := asyncRoute("", func(ctx context.Context, path string) (bool, error) {
		time.Sleep(20 * time.Millisecond)
		return true, nil
	})

	require.NoError(t, r.Insert(first))
	require.NoError(t, r.Insert(second))

	got, err := r.Lookup(context.Background(), http.MethodGet, "/anything")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestRouter_BoundsConcurrentAsyncMatchers(t *testing.T) {
	r := New(WithPathConcurrency(2))

	var inFlight, maxSeen atomic.Int32
	release := make(chan struct{})
	mk := func(result bool) routespec.Async {
		return func(ctx context.Context, path string) (bool, error) {
			n := inFlight.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return result, nil
		}
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Insert(asyncRoute("", mk(false))))
	}

	done := make(chan struct{})
	go func() {
		_, _ = r.Lookup(context.Background(), http.MethodGet, "/x")
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	close(release)
	<-done

	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestRouter_LookupCanceledContextReturnsPromptly(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(asyncRoute("", func(ctx context.Context, path string) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Lookup(ctx, http.MethodGet, "/x")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("lookup did not return promptly after cancel")
	}
}

func TestRouter_PrefixScoping(t *testing.T) {
	r := New()
	inShared := literalRoute("/shared", "/shared/thing", noopHandler)
	require.NoError(t, r.Insert(inShared))

	_, err := r.Lookup(context.Background(), http.MethodGet, "/other/thing")
	assert.ErrorIs(t, err, ErrNoRoute)

	got, err := r.Lookup(context.Background(), http.MethodGet, "/shared/thing")
	require.NoError(t, err)
	assert.Same(t, inShared, got)
}

func TestRouter_RoutesSnapshotIsInsertionOrdered(t *testing.T) {
	r := New()
	a := literalRoute("", "/a", noopHandler)
	b := asyncRoute("", func(context.Context, string) (bool, error) { return false, nil })
	c := literalRoute("", "/c", noopHandler)
	require.NoError(t, r.Insert(a))
	require.NoError(t, r.Insert(b))
	require.NoError(t, r.Insert(c))

	all := r.Routes()
	require.Len(t, all, 3)
	assert.Same(t, a, all[0])
	assert.Same(t, b, all[1])
	assert.Same(t, c, all[2])
}
