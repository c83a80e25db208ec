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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

type memStore struct {
	rows map[string]struct {
		fp [64]byte
		at time.Time
	}
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]struct {
		fp [64]byte
		at time.Time
	})}
}

func (m *memStore) Lookup(ctx context.Context, path string) ([64]byte, time.Time, bool, error) {
	row, ok := m.rows[path]
	if !ok {
		return [64]byte{}, time.Time{}, false, nil
	}
	return row.fp, row.at, true, nil
}

func (m *memStore) Upsert(ctx context.Context, path string, fp [64]byte, at time.Time) error {
	m.rows[path] = struct {
		fp [64]byte
		at time.Time
	}{fp, at}
	return nil
}

func fp(b byte) [64]byte {
	var f [64]byte
	f[0] = b
	return f
}

func TestEncode_NewEntryIsInsertedWithNow(t *testing.T) {
	r := NewRendezvous()
	store := newMemStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	go func() {
		_ = RunGenerators(context.Background(), []Generator{
			func(ctx context.Context, push func(context.Context, []routespec.SitemapEntry) error) error {
				return push(ctx, []routespec.SitemapEntry{{Path: "/a", Fingerprint: fp(1)}})
			},
		}, r)
	}()

	results, err := Encode(context.Background(), r, store, func() time.Time { return now })
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ActionInsert, results[0].Action)
	assert.True(t, now.Equal(results[0].Lastmod))
}

func TestEncode_UnchangedFingerprintKeepsStoredLastmod(t *testing.T) {
	r := NewRendezvous()
	store := newMemStore()
	stored := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(context.Background(), "/a", fp(1), stored))

	go func() {
		_ = RunGenerators(context.Background(), []Generator{
			func(ctx context.Context, push func(context.Context, []routespec.SitemapEntry) error) error {
				return push(ctx, []routespec.SitemapEntry{{Path: "/a", Fingerprint: fp(1)}})
			},
		}, r)
	}()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	results, err := Encode(context.Background(), r, store, func() time.Time { return now })
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ActionSkip, results[0].Action)
	assert.True(t, stored.Equal(results[0].Lastmod))
}

func TestEncode_ChangedFingerprintUpdatesWithNow(t *testing.T) {
	r := NewRendezvous()
	store := newMemStore()
	stored := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(context.Background(), "/a", fp(1), stored))

	go func() {
		_ = RunGenerators(context.Background(), []Generator{
			func(ctx context.Context, push func(context.Context, []routespec.SitemapEntry) error) error {
				return push(ctx, []routespec.SitemapEntry{{Path: "/a", Fingerprint: fp(2)}})
			},
		}, r)
	}()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	results, err := Encode(context.Background(), r, store, func() time.Time { return now })
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ActionUpdate, results[0].Action)
	assert.True(t, now.Equal(results[0].Lastmod))
}

func TestRunGenerators_RunsSequentiallyAndClosesAfterLast(t *testing.T) {
	var order []int
	gens := []Generator{
		func(ctx context.Context, push func(context.Context, []routespec.SitemapEntry) error) error {
			order = append(order, 1)
			return push(ctx, []routespec.SitemapEntry{{Path: "/1"}})
		},
		func(ctx context.Context, push func(context.Context, []routespec.SitemapEntry) error) error {
			order = append(order, 2)
			return push(ctx, []routespec.SitemapEntry{{Path: "/2"}})
		},
	}

	r := NewRendezvous()
	done := make(chan error, 1)
	go func() { done <- RunGenerators(context.Background(), gens, r) }()

	var seen []string
	for {
		batch, ok, err := r.Read(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		for _, e := range batch {
			seen = append(seen, e.Path)
		}
	}
	require.NoError(t, <-done)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, []string{"/1", "/2"}, seen)
}

func TestRunGenerators_ErrorStillClosesRendezvous(t *testing.T) {
	boom := errors.New("boom")
	gens := []Generator{
		func(ctx context.Context, push func(context.Context, []routespec.SitemapEntry) error) error {
			return boom
		},
	}

	r := NewRendezvous()
	done := make(chan error, 1)
	go func() { done <- RunGenerators(context.Background(), gens, r) }()

	_, ok, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, <-done, boom)
}

func TestWriteXML_ProducesURLSet(t *testing.T) {
	var buf strings.Builder
	results := []Result{{Path: "/a", Lastmod: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}}
	require.NoError(t, WriteXML(&buf, "https://example.com", results))
	out := buf.String()
	assert.Contains(t, out, "<loc>https://example.com/a</loc>")
	assert.Contains(t, out, "urlset")
}

func TestWritePlain_OneURLPerLine(t *testing.T) {
	var buf strings.Builder
	results := []Result{{Path: "/a"}, {Path: "/b"}}
	require.NoError(t, WritePlain(&buf, "https://example.com", results))
	assert.Equal(t, "https://example.com/a\nhttps://example.com/b\n", buf.String())
}

func TestWriteCSV_HasHeaderAndRows(t *testing.T) {
	var buf strings.Builder
	results := []Result{{Path: "/a", Lastmod: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}}
	require.NoError(t, WriteCSV(&buf, results))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "path,lastmod", lines[0])
}
