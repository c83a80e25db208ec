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

// Package sitemap implements the producer/consumer sitemap stream from
// spec.md §4.8: a single-slot rendezvous channel between many sequential
// asynchronous generators and one encoder, plus the encoder's XML/plain/
// CSV output and its DB bookkeeping.
//
// No teacher module has a rendezvous/handoff primitive; Rendezvous is a
// mutex and sync.Cond guarding an explicit empty/batch/closed slot,
// rather than a buffered queue, so that at most one batch is ever pending.
package sitemap

import (
	"context"
	"errors"
	"sync"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

// ErrClosed is returned by Push once the rendezvous has been closed.
var ErrClosed = errors.New("sitemap: rendezvous is closed")

// slotState is the three-state machine from spec.md §4.8.
type slotState int

const (
	slotEmpty slotState = iota
	slotBatch
	slotClosed
)

// Rendezvous is a single-slot handoff between producers pushing batches of
// entries and one consumer reading them. At most one batch is ever
// pending; a producer blocks until the consumer has taken the previous
// one. Each call observes only its own ctx: canceling it promptly fails
// that call, and does not by itself fail the other side's pending or next
// call.
type Rendezvous struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state slotState
	batch []routespec.SitemapEntry
}

// NewRendezvous creates an empty (slotEmpty) rendezvous.
func NewRendezvous() *Rendezvous {
	r := &Rendezvous{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push blocks until the slot is empty, then deposits batch and wakes the
// consumer. Returns ErrClosed if the rendezvous was already closed, or
// ctx.Err() if ctx is canceled while waiting.
func (r *Rendezvous) Push(ctx context.Context, batch []routespec.SitemapEntry) error {
	return r.wait(ctx, func() error {
		if r.state == slotClosed {
			return ErrClosed
		}
		r.state = slotBatch
		r.batch = batch
		r.cond.Broadcast()
		return errDone
	})
}

// Close blocks until the slot is empty, then marks the rendezvous closed.
// Close is idempotent: closing an already-closed rendezvous is a no-op.
func (r *Rendezvous) Close(ctx context.Context) error {
	return r.wait(ctx, func() error {
		if r.state == slotClosed {
			return errDone
		}
		r.state = slotClosed
		r.cond.Broadcast()
		return errDone
	})
}

// Read blocks until the slot holds a batch or is closed. It returns the
// batch and true, or (nil, false) once closed and every pending batch has
// been drained. Returns ctx.Err() if ctx is canceled while waiting.
func (r *Rendezvous) Read(ctx context.Context) ([]routespec.SitemapEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := r.watchCancel(ctx)
	defer done()

	for r.state == slotEmpty {
		r.cond.Wait()
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}

	switch r.state {
	case slotBatch:
		batch := r.batch
		r.batch = nil
		r.state = slotEmpty
		r.cond.Broadcast()
		return batch, true, nil
	default: // slotClosed
		return nil, false, nil
	}
}

// errDone is a private sentinel used only to unwind wait's retry loop once
// the caller's step function has committed a state transition; it is never
// returned to callers of Push or Close.
var errDone = errors.New("sitemap: internal done")

// wait blocks until the slot is empty (Push, Close) and then calls step,
// which performs the actual state transition under the lock and returns
// errDone on success or a real error (ErrClosed) to propagate.
func (r *Rendezvous) wait(ctx context.Context, step func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := r.watchCancel(ctx)
	defer done()

	for r.state == slotBatch {
		r.cond.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	err := step()
	if err == errDone {
		return nil
	}
	return err
}

// watchCancel spawns a goroutine that wakes every waiter on cond when ctx
// is canceled, since sync.Cond has no native context support. The
// returned func must be called (under r.mu held, as all callers above do
// via defer before unlocking is not required here since cond.Wait
// re-acquires the lock) to stop the watcher once this call is done
// waiting.
func (r *Rendezvous) watchCancel(ctx context.Context) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}
