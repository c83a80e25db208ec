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

package integrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssrweb/frontend-ssr-web/internal/sentinel"
)

func TestHolder_KVWithNoSentinelsFailsWithoutDialing(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	_, err := h.KV(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrNoSentinels)
}

func TestHolder_KVCachesErrorOnSecondCall(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	_, err1 := h.KV(context.Background())
	_, err2 := h.KV(context.Background())
	require.Error(t, err1)
	assert.Same(t, err1, err2)
}

func TestHolder_AccessorsFailAfterClose(t *testing.T) {
	h := New(Config{})
	require.NoError(t, h.Close())

	_, err := h.KV(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = h.DB(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHolder_CloseIsIdempotent(t *testing.T) {
	h := New(Config{})
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestHolder_CloseWithoutAnyAcquisitionReturnsPromptly(t *testing.T) {
	h := New(Config{})
	done := make(chan struct{})
	go func() {
		_ = h.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close blocked on a watcher that was never started")
	}
}
