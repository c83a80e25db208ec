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

// Package cancel provides the uniform cancelable-operation primitive used
// throughout the server: a handle whose completion can be awaited, a cancel
// that is idempotent and safe from any concurrent caller, and a terminal
// status query.
//
// Cancellation here is cooperative. Requesting cancel only signals the
// operation to finish; Done() only closes once the operation has released
// every resource it opened. Composing many sub-operations under one Group
// guarantees canceling the group cancels every child.
package cancel

import (
	"context"
	"sync"
)

// Op is a cancelable operation with an observable terminal state.
//
// The zero value is not usable; construct with New. Cancel may be called
// from any goroutine, any number of times; only the first call has effect.
// Done() must never close until Finish has been called by whoever owns
// the operation's work, and Finish must only run once every resource the
// operation opened (sub-operations, timers, connections, watchers) has
// itself been released.
type Op struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	finished bool
	done     chan struct{}
	err      error
}

// New creates an Op derived from parent. Canceling parent cancels the Op.
func New(parent context.Context) *Op {
	ctx, cancel := context.WithCancel(parent)
	return &Op{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context returns the operation's context; sub-operations should derive
// from this so a cancel cascades to them automatically.
func (o *Op) Context() context.Context {
	return o.ctx
}

// Cancel requests the operation stop. Idempotent and concurrency-safe.
func (o *Op) Cancel() {
	o.cancel()
}

// Canceled reports whether Cancel has been requested (not whether the
// operation has finished yet — use Done for that).
func (o *Op) Canceled() bool {
	select {
	case <-o.ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the operation has reached a terminal
// state. It is safe to read concurrently with Finish.
func (o *Op) Done() <-chan struct{} {
	return o.done
}

// Err returns the terminal error, if any. Only meaningful after Done()
// has closed.
func (o *Op) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Finish marks the operation terminal with the given error (nil on
// success). Only the first call has effect; Done() closes only after this
// call returns, so no consumer can observe a result before the terminal
// status is visible.
func (o *Op) Finish(err error) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return
	}
	o.finished = true
	o.err = err
	o.mu.Unlock()
	close(o.done)
}

// Group composes many Ops into one: canceling the group cancels every
// member, and the group's own Op finishes once every member has finished.
type Group struct {
	*Op
	mu       sync.Mutex
	members  []*Op
	wg       sync.WaitGroup
	collectErr error
}

// NewGroup creates an empty Group derived from parent.
func NewGroup(parent context.Context) *Group {
	return &Group{Op: New(parent)}
}

// Add registers a child Op with the group. Canceling the group cancels
// child immediately if it was already canceled; the group's Done() won't
// close until every added child has finished.
func (g *Group) Add(child *Op) {
	g.mu.Lock()
	g.members = append(g.members, child)
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		select {
		case <-g.Op.Context().Done():
			child.Cancel()
		case <-child.Done():
		}
		<-child.Done()
		if err := child.Err(); err != nil {
			g.mu.Lock()
			if g.collectErr == nil {
				g.collectErr = err
			}
			g.mu.Unlock()
		}
	}()
}

// Wait blocks until every added child has finished, then finishes the
// group itself with the first non-nil child error (if any).
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	err := g.collectErr
	g.mu.Unlock()
	g.Op.Finish(err)
	return err
}

// CancelAll cancels the group and every currently-registered child.
func (g *Group) CancelAll() {
	g.Op.Cancel()
	g.mu.Lock()
	members := append([]*Op(nil), g.members...)
	g.mu.Unlock()
	for _, m := range members {
		m.Cancel()
	}
}

// Remove drops child from the group's membership once the caller knows it
// has finished, so a long-lived group (e.g. one in-flight request
// registry per server process) doesn't accumulate members forever.
// Removing a child that was never added, or removing twice, is a no-op.
func (g *Group) Remove(child *Op) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, m := range g.members {
		if m == child {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return
		}
	}
}
