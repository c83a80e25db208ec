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

// Package integrations provides a request-scoped holder for the two
// external collaborators a handler may need: a database client and a
// key-value-store client. Per spec.md §4.3 and §9 ("avoid a process-wide
// singleton; keep the holder request-scoped"), a Holder belongs to one
// request's lifetime, not the process's.
//
// Grounded on the teacher app's pooled per-request Context
// (app/context.go, app/context_pool.go): rather than reach into package
// globals, request-scoped state is carried on a value handed to the
// handler. Holder adapts that discipline from object pooling to
// lazy-init-with-teardown.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rqlite/gorqlite"

	"github.com/ssrweb/frontend-ssr-web/internal/sentinel"
)

// ErrClosed is returned by DB and KV once Close has run.
var ErrClosed = errors.New("integrations: holder is closed")

// Config configures how a Holder lazily acquires its resources.
type Config struct {
	// DBConnURL is the rqlite HTTP(S) connection string, e.g.
	// "http://localhost:4001".
	DBConnURL string

	// Sentinels and SentinelConfig parameterize the primary discovery run
	// (spec.md §4.2) the KV-store connection performs before dialing.
	Sentinels      []sentinel.Endpoint
	SentinelConfig sentinel.Config

	// RedisConnectTimeout bounds the dial to the discovered primary.
	// Default 2s.
	RedisConnectTimeout time.Duration

	// WatchInterval controls how often the KV connection is health-checked
	// once established, to detect connection drop or failover and report it
	// on Errors(). Default 5s.
	WatchInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RedisConnectTimeout <= 0 {
		c.RedisConnectTimeout = 2 * time.Second
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 5 * time.Second
	}
	return c
}

// Holder lazily initializes and owns a database client and a KV-store
// client for the duration of one request (or similar bounded scope).
//
// First access to either resource triggers its initialization, guarded by
// a mutex so concurrent first accesses within the same Holder share one
// initialization. Close releases resources in reverse order of
// acquisition, exactly once; all accessors fail after Close.
type Holder struct {
	cfg Config

	mu     sync.Mutex
	db     gorqlite.Connection
	dbInit bool
	kv     *redis.Client
	acq    []func() // teardown thunks, appended in acquisition order

	closed bool

	dbErr error
	kvErr error

	errCh     chan error
	watchStop chan struct{}
	watchWG   sync.WaitGroup
}

// New creates a Holder. No resource is acquired until first use.
func New(cfg Config) *Holder {
	return &Holder{
		cfg:       cfg.withDefaults(),
		errCh:     make(chan error, 1),
		watchStop: make(chan struct{}),
	}
}

// Errors returns the channel on which out-of-band KV-store failures
// (connection drop, failover) are reported after the connection was
// successfully established. A caller that subscribes to this channel
// should treat any value received as fatal for the request in progress
// and cancel its work (spec.md §4.3).
func (h *Holder) Errors() <-chan error {
	return h.errCh
}

// DB returns the database client, initializing it on first call.
func (h *Holder) DB(ctx context.Context) (gorqlite.Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return gorqlite.Connection{}, ErrClosed
	}
	if h.dbInit || h.dbErr != nil {
		return h.db, h.dbErr
	}

	conn, err := gorqlite.Open(h.cfg.DBConnURL)
	if err != nil {
		h.dbErr = fmt.Errorf("integrations: open database: %w", err)
		return gorqlite.Connection{}, h.dbErr
	}
	h.db = conn
	h.dbInit = true
	h.acq = append(h.acq, func() { conn.Close() })
	return h.db, nil
}

// KV returns the key-value-store client, running primary discovery
// (spec.md §4.2) and connecting on first call.
func (h *Holder) KV(ctx context.Context) (*redis.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if h.kv != nil || h.kvErr != nil {
		return h.kv, h.kvErr
	}

	primary, err := sentinel.Discover(ctx, h.cfg.Sentinels, h.cfg.SentinelConfig)
	if err != nil {
		h.kvErr = fmt.Errorf("integrations: discover kv primary: %w", err)
		return nil, h.kvErr
	}

	client := redis.NewClient(&redis.Options{
		Addr:        primary.String(),
		DialTimeout: h.cfg.RedisConnectTimeout,
		MaxRetries:  -1, // reconnect disabled: a dropped primary is reported, not silently retried
	})

	dialCtx, cancel := context.WithTimeout(ctx, h.cfg.RedisConnectTimeout)
	defer cancel()
	if err := client.Ping(dialCtx).Err(); err != nil {
		_ = client.Close()
		h.kvErr = fmt.Errorf("integrations: connect kv primary %s: %w", primary, err)
		return nil, h.kvErr
	}

	h.kv = client
	h.acq = append(h.acq, func() { _ = client.Close() })
	h.watchWG.Add(1)
	go h.watchKV(client)
	return h.kv, nil
}

// watchKV periodically pings the established KV connection. Each failed
// ping is reported on errCh at most once: the send never blocks, and a
// failure is dropped while errCh still holds an unread error, so a caller
// that never subscribed cannot wedge the watcher.
func (h *Holder) watchKV(client *redis.Client) {
	defer h.watchWG.Done()
	ticker := time.NewTicker(h.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.watchStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RedisConnectTimeout)
			err := client.Ping(ctx).Err()
			cancel()
			if err != nil {
				select {
				case h.errCh <- fmt.Errorf("integrations: kv connection: %w", err):
				default:
				}
			}
		}
	}
}

// Close releases every acquired resource in reverse order of acquisition,
// exactly once. After Close, DB and KV always return ErrClosed.
func (h *Holder) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	acq := h.acq
	h.acq = nil
	h.mu.Unlock()

	close(h.watchStop)
	h.watchWG.Wait()

	for i := len(acq) - 1; i >= 0; i-- {
		acq[i]()
	}
	return nil
}
