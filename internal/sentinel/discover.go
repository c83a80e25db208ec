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

// Package sentinel discovers the current primary of a replicated key-value
// store through a quorum of sentinel observers, per spec.md §4.2.
//
// The wire protocol is delegated to github.com/redis/go-redis/v9's Sentinel
// client; what this package owns is the scheduling policy: random
// permutation, bounded concurrent attempts, per-sentinel exponential
// backoff, and first-success-wins semantics — including the documented
// possible split-brain behavior on sentinel disagreement (spec.md §9).
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ssrweb/sentinel")

// ErrExhausted is returned when every sentinel has exhausted its retry
// budget without a quorum-satisfying success.
var ErrExhausted = errors.New("sentinel: all sentinels exhausted")

// ErrNoSentinels is returned when S is empty.
var ErrNoSentinels = errors.New("sentinel: no sentinel endpoints configured")

// Endpoint is a (host, port) pair.
type Endpoint struct {
	Host string
	Port string
}

func (e Endpoint) String() string { return e.Host + ":" + e.Port }

// Config governs discovery.
type Config struct {
	// MasterName is the sentinel-monitored master group name.
	MasterName string
	// Quorum is Q: the minimum number of *other* sentinels a chosen
	// sentinel must claim to see.
	Quorum int
	// MaxRetries is the per-sentinel attempt budget; 0 means unbounded.
	MaxRetries int
	// ConnectTimeout bounds each attempt's connection. Default 2s.
	ConnectTimeout time.Duration
	// CommandTimeout bounds each attempt's command round trip. Default 5s.
	CommandTimeout time.Duration
	// MaxParallel is M, the most attempts in flight at once. Default 2.
	MaxParallel int
	// Observe, if set, is called once per completed attempt with "success"
	// or "failure", letting internal/metrics count discovery attempts
	// without this package depending on Prometheus directly (SPEC_FULL.md
	// §2 domain stack).
	Observe func(outcome string)
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Second
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 2
	}
	return c
}

// sentinelState tracks the per-sentinel scheduling bookkeeping.
type sentinelState struct {
	endpoint    Endpoint
	attempts    int
	nextAttempt time.Time
	exhausted   bool
}

type attemptResult struct {
	endpoint Endpoint
	err      error
}

// Discover runs the algorithm in spec.md §4.2 against the sentinel set s,
// returning the discovered primary endpoint. It blocks until success,
// exhaustion, or ctx cancellation.
func Discover(ctx context.Context, s []Endpoint, cfg Config) (Endpoint, error) {
	return discover(ctx, s, cfg, attempt)
}

// discover is the scheduling core, parameterized over the attempt function
// so tests can exercise ordering and backoff without a live sentinel.
func discover(ctx context.Context, s []Endpoint, cfg Config, attemptFn func(context.Context, Endpoint, Config) (Endpoint, error)) (Endpoint, error) {
	if len(s) == 0 {
		return Endpoint{}, ErrNoSentinels
	}
	cfg = cfg.withDefaults()

	ctx, span := tracer.Start(ctx, "sentinel.discover")
	defer span.End()

	perm := rand.Perm(len(s))
	states := make([]*sentinelState, len(s))
	for i, idx := range perm {
		states[i] = &sentinelState{endpoint: s[idx]}
	}

	// runCtx bounds every in-flight attempt; canceling it on first success
	// or on ctx.Done() tells every other attempt to abandon its work.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	resultCh := make(chan attemptResult, len(states))
	var mu sync.Mutex
	inFlight := 0

	for {
		mu.Lock()
		anyPending := false
		var nextWake time.Time
		now := time.Now()
		for inFlight < cfg.MaxParallel {
			var pick *sentinelState
			for _, st := range states {
				if st.exhausted {
					continue
				}
				if cfg.MaxRetries > 0 && st.attempts >= cfg.MaxRetries {
					st.exhausted = true
					continue
				}
				anyPending = true
				if st.nextAttempt.After(now) {
					if nextWake.IsZero() || st.nextAttempt.Before(nextWake) {
						nextWake = st.nextAttempt
					}
					continue
				}
				pick = st
				break
			}
			if pick == nil {
				break
			}
			pick.attempts++
			backoff := time.Duration(min(pow2(pick.attempts), 64)) * time.Second
			pick.nextAttempt = now.Add(backoff)
			inFlight++
			go func(st *sentinelState) {
				ep, err := attemptFn(runCtx, st.endpoint, cfg)
				resultCh <- attemptResult{endpoint: ep, err: err}
			}(pick)
		}
		stillWaiting := inFlight
		mu.Unlock()

		if !anyPending && stillWaiting == 0 {
			span.SetStatus(codes.Error, "exhausted")
			return Endpoint{}, ErrExhausted
		}

		var wake <-chan time.Time
		var timer *time.Timer
		if !nextWake.IsZero() && stillWaiting < cfg.MaxParallel {
			d := time.Until(nextWake)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			wake = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			cancelRun()
			return Endpoint{}, ctx.Err()
		case r := <-resultCh:
			if timer != nil {
				timer.Stop()
			}
			mu.Lock()
			inFlight--
			mu.Unlock()
			if cfg.Observe != nil {
				if r.err == nil {
					cfg.Observe("success")
				} else {
					cfg.Observe("failure")
				}
			}
			if r.err == nil {
				cancelRun() // discard every other in-flight attempt
				return r.endpoint, nil
			}
		case <-wake:
			// loop again; a sentinel's backoff has elapsed
		}
	}
}

func pow2(n int) int64 {
	if n > 62 {
		return 1 << 62
	}
	return int64(1) << uint(n)
}

// attempt performs one discovery attempt against a single sentinel:
// connect (2s), issue GET-MASTER-ADDR-BY-NAME and SENTINEL SENTINELS,
// reject if fewer than Quorum other sentinels are known.
func attempt(ctx context.Context, ep Endpoint, cfg Config) (Endpoint, error) {
	ctx, span := tracer.Start(ctx, "sentinel.attempt", trace.WithAttributes(
		attribute.String("sentinel.endpoint", ep.String()),
	))
	defer span.End()

	connCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client := redis.NewSentinelClient(&redis.Options{
		Addr:        ep.String(),
		DialTimeout: cfg.ConnectTimeout,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		span.RecordError(err)
		return Endpoint{}, fmt.Errorf("sentinel %s: connect: %w", ep, err)
	}

	cmdCtx, cancelCmd := context.WithTimeout(ctx, cfg.CommandTimeout)
	defer cancelCmd()

	addr, err := client.GetMasterAddrByName(cmdCtx, cfg.MasterName).Result()
	if err != nil {
		span.RecordError(err)
		return Endpoint{}, fmt.Errorf("sentinel %s: get-master-addr-by-name: %w", ep, err)
	}
	if len(addr) != 2 {
		return Endpoint{}, fmt.Errorf("sentinel %s: malformed master address reply", ep)
	}

	others, err := client.Sentinels(cmdCtx, cfg.MasterName).Result()
	if err != nil {
		span.RecordError(err)
		return Endpoint{}, fmt.Errorf("sentinel %s: sentinels: %w", ep, err)
	}
	if len(others) < cfg.Quorum {
		return Endpoint{}, fmt.Errorf("sentinel %s: insufficient peer knowledge (%d < %d)", ep, len(others), cfg.Quorum)
	}

	return Endpoint{Host: addr[0], Port: addr[1]}, nil
}
