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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

func entry(path string) routespec.SitemapEntry {
	return routespec.SitemapEntry{Path: path}
}

func TestRendezvous_PushThenReadHandsOffBatch(t *testing.T) {
	r := NewRendezvous()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- r.Push(ctx, []routespec.SitemapEntry{entry("/a")}) }()

	batch, ok, err := r.Read(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/a", batch[0].Path)
	require.NoError(t, <-done)
}

func TestRendezvous_SecondPushBlocksUntilFirstRead(t *testing.T) {
	r := NewRendezvous()
	ctx := context.Background()

	require.NoError(t, pushAsync(t, r, ctx, "/a"))

	secondDone := make(chan error, 1)
	go func() { secondDone <- r.Push(ctx, []routespec.SitemapEntry{entry("/b")}) }()

	select {
	case <-secondDone:
		t.Fatal("second push completed before first batch was read")
	case <-time.After(20 * time.Millisecond):
	}

	batch, ok, err := r.Read(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/a", batch[0].Path)

	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second push did not unblock after read")
	}

	batch, ok, err = r.Read(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/b", batch[0].Path)
}

func pushAsync(t *testing.T, r *Rendezvous, ctx context.Context, path string) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.Push(ctx, []routespec.SitemapEntry{entry(path)}) }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("push did not complete on an empty slot")
		return nil
	}
}

func TestRendezvous_CloseThenReadReturnsDone(t *testing.T) {
	r := NewRendezvous()
	ctx := context.Background()
	require.NoError(t, r.Close(ctx))

	_, ok, err := r.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRendezvous_PushAfterCloseFails(t *testing.T) {
	r := NewRendezvous()
	ctx := context.Background()
	require.NoError(t, r.Close(ctx))

	err := r.Push(ctx, []routespec.SitemapEntry{entry("/late")})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRendezvous_CancelingReaderFailsPromptly(t *testing.T) {
	r := NewRendezvous()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := r.Read(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Read did not return promptly after cancel")
	}
}

func TestRendezvous_CancelingProducerFailsPromptlyWhenSlotFull(t *testing.T) {
	r := NewRendezvous()
	bg := context.Background()
	require.NoError(t, pushAsync(t, r, bg, "/a")) // fills the slot, nobody reads it

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Push(ctx, []routespec.SitemapEntry{entry("/b")}) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Push did not return promptly after cancel")
	}
}
