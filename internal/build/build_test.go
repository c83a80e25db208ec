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

package build

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrweb/frontend-ssr-web/internal/router"
	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

func literalDescriptor(path string) routespec.Descriptor {
	return routespec.Descriptor{
		Methods: []string{http.MethodGet},
		Path:    routespec.Literal(path),
		NewHandler: func(context.Context, any) (http.Handler, error) {
			return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), nil
		},
		Docs: []routespec.DocItem{{TemplatedPath: path}},
	}
}

func TestScheduler_RealizesAndInsertsLiteralDescriptors(t *testing.T) {
	r := router.New()
	s := New(r, WithConcurrency(4))

	entries := []routespec.Entry{
		{Prefix: "", Descriptor: ptr(literalDescriptor("/a"))},
		{Prefix: "", Descriptor: ptr(literalDescriptor("/b"))},
	}

	require.NoError(t, s.Run(context.Background(), entries, nil, nil))
	assert.True(t, r.Frozen())

	got, err := r.Lookup(context.Background(), http.MethodGet, "/a")
	require.NoError(t, err)
	assert.Equal(t, "/a", string(got.Path.(routespec.Literal)))
}

func TestScheduler_FactoryDescriptorsRealizeSequentiallyWithinSlot(t *testing.T) {
	r := router.New()
	s := New(r, WithConcurrency(1))

	var order []int
	factory := func(ctx context.Context, config any) ([]routespec.Descriptor, error) {
		return []routespec.Descriptor{
			descriptorWithSideEffect("/f1", &order, 1),
			descriptorWithSideEffect("/f2", &order, 2),
		}, nil
	}

	entries := []routespec.Entry{{Prefix: "", Factory: factory}}
	require.NoError(t, s.Run(context.Background(), entries, nil, nil))

	assert.Equal(t, []int{1, 2}, order)
	_, err := r.Lookup(context.Background(), http.MethodGet, "/f1")
	require.NoError(t, err)
	_, err = r.Lookup(context.Background(), http.MethodGet, "/f2")
	require.NoError(t, err)
}

func descriptorWithSideEffect(path string, order *[]int, tag int) routespec.Descriptor {
	return routespec.Descriptor{
		Methods: []string{http.MethodGet},
		Path:    routespec.Literal(path),
		NewHandler: func(context.Context, any) (http.Handler, error) {
			*order = append(*order, tag)
			return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), nil
		},
	}
}

func TestScheduler_RealizationFailureFailsWholeBuild(t *testing.T) {
	r := router.New()
	s := New(r)

	boom := errors.New("boom")
	failing := routespec.Descriptor{
		Methods: []string{http.MethodGet},
		Path:    routespec.Literal("/bad"),
		NewHandler: func(context.Context, any) (http.Handler, error) {
			return nil, boom
		},
	}

	entries := []routespec.Entry{{Prefix: "", Descriptor: &failing}}
	err := s.Run(context.Background(), entries, nil, nil)
	assert.ErrorIs(t, err, boom)
}

func TestScheduler_BoundsConcurrentRealizations(t *testing.T) {
	r := router.New()
	s := New(r, WithConcurrency(2))

	var inFlight, maxSeen atomic.Int32
	release := make(chan struct{})
	mkEntry := func(path string) routespec.Entry {
		return routespec.Entry{Descriptor: ptr(routespec.Descriptor{
			Methods: []string{http.MethodGet},
			Path:    routespec.Literal(path),
			NewHandler: func(context.Context, any) (http.Handler, error) {
				n := inFlight.Add(1)
				for {
					cur := maxSeen.Load()
					if n <= cur || maxSeen.CompareAndSwap(cur, n) {
						break
					}
				}
				<-release
				inFlight.Add(-1)
				return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), nil
			},
		})}
	}

	entries := []routespec.Entry{mkEntry("/a"), mkEntry("/b"), mkEntry("/c"), mkEntry("/d")}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), entries, nil, nil) }()

	time.Sleep(30 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestScheduler_MetaRoutesSeeFlatViewAndRunLast(t *testing.T) {
	r := router.New()
	s := New(r)

	entries := []routespec.Entry{
		{Prefix: "", Descriptor: ptr(literalDescriptor("/a"))},
		{Prefix: "", Descriptor: ptr(literalDescriptor("/b"))},
	}

	var sawPaths []string
	metaProvider := func(ctx context.Context, flat []routespec.DocItem, config any) (*routespec.Descriptor, error) {
		for _, d := range flat {
			sawPaths = append(sawPaths, d.TemplatedPath)
		}
		return ptr(routespec.Descriptor{
			Methods: []string{http.MethodGet},
			Path:    routespec.Literal("/sitemap.xml"),
			NewHandler: func(context.Context, any) (http.Handler, error) {
				return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), nil
			},
		}), nil
	}

	require.NoError(t, s.Run(context.Background(), entries, []MetaRouteProvider{metaProvider}, nil))
	assert.ElementsMatch(t, []string{"/a", "/b"}, sawPaths)

	_, err := r.Lookup(context.Background(), http.MethodGet, "/sitemap.xml")
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }
