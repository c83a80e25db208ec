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

// Package update implements the failover-aware update coordinator from
// spec.md §4.10: the startup rebuild check, the steady-state
// update-available subscription, and acquisition/release of the
// distributed update lock backing safe one-by-one rolling redeployment
// across a fleet.
//
// Grounded on the teacher app's lifecycle hook ordering
// (app/lifecycle.go's OnStart/OnShutdown sequential-then-LIFO discipline)
// for how the coordinator plugs into startup and shutdown, and on
// internal/sentinel's attemptFn injection pattern for keeping the store
// round-trip behind a narrow interface so the protocol logic is testable
// without a live Redis deployment.
package update

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ssrweb/frontend-ssr-web/internal/logging"
	"github.com/ssrweb/frontend-ssr-web/internal/sentinel"
)

// ErrAlreadyStarting is returned by AcquireLocalLock when updater.lock
// already exists: another instance of this process is starting up.
var ErrAlreadyStarting = errors.New("update: another instance is already starting (updater.lock exists)")

// ErrRebuildRequired is returned by Startup when the source revision
// changed and the caller must treat this run as build-then-restart.
var ErrRebuildRequired = errors.New("update: source revision changed, rebuild required")

// releaseScript is the server-side CAS script from spec.md §3: only delete
// the lock if it still holds the identifier we believe we own.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// subscription is the slice of *redis.PubSub this package needs.
type subscription interface {
	Channel() <-chan *redis.Message
	Close() error
}

// store is the slice of *redis.Client this package needs, narrowed so
// tests can supply a fake instead of a live Redis deployment.
type store interface {
	GetSet(ctx context.Context, key string, value any) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Subscribe(ctx context.Context, channels ...string) subscription
	Close() error
}

// clientAdapter narrows *redis.Client to the store interface: Subscribe's
// return type must match exactly for interface satisfaction, and
// *redis.PubSub already implements subscription structurally.
type clientAdapter struct{ *redis.Client }

func (c clientAdapter) Subscribe(ctx context.Context, channels ...string) subscription {
	return c.Client.Subscribe(ctx, channels...)
}

// Config parameterizes one Coordinator. Revision, Rebuild, and Restart are
// the out-of-core collaborators spec.md §1 assigns elsewhere (version
// control query, JS build toolchain, process self-restart).
type Config struct {
	Sentinels      []sentinel.Endpoint
	SentinelConfig sentinel.Config
	ConnectTimeout time.Duration // default 2s

	BuildHashKey   string        // e.g. "builds:frontend-ssr-web:hash"
	UpdatesChannel string        // e.g. "updates:frontend-ssr-web"
	LockKey        string        // e.g. "updates:frontend-ssr-web:lock"
	LockTTL        time.Duration // default 300s
	LockRetry      time.Duration // default 1s
	PostSignalWait time.Duration // default 5s, settle time before acquiring
	ReconnectWait  time.Duration // default 4s, after a non-cancel error

	LocalLockPath   string // default "updater.lock"
	LockKeyFilePath string // default "updater-lock-key.txt"
	Dev             bool   // ENVIRONMENT == "dev": skip rebuild check

	Revision func(ctx context.Context) (string, error)
	Rebuild  func(ctx context.Context) error
	Restart  func(ctx context.Context) error

	// Connect discovers and dials the primary, returning it as a store.
	// Defaults to sentinel discovery + redis.NewClient; overridden in
	// tests to avoid a live Redis deployment.
	Connect func(ctx context.Context) (store, error)
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 300 * time.Second
	}
	if c.LockRetry <= 0 {
		c.LockRetry = time.Second
	}
	if c.PostSignalWait <= 0 {
		c.PostSignalWait = 5 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 4 * time.Second
	}
	if c.LocalLockPath == "" {
		c.LocalLockPath = "updater.lock"
	}
	if c.LockKeyFilePath == "" {
		c.LockKeyFilePath = "updater-lock-key.txt"
	}
	return c
}

// Coordinator drives the update protocol for one process lifetime.
type Coordinator struct {
	cfg    Config
	logger *logging.Logger
}

// New creates a Coordinator. cfg.Revision/Rebuild/Restart must be set by
// the caller (spec.md §1 keeps these out of core scope).
func New(cfg Config, logger *logging.Logger) *Coordinator {
	c := cfg.withDefaults()
	if c.Connect == nil {
		c.Connect = defaultConnect(c)
	}
	return &Coordinator{cfg: c, logger: logger}
}

// defaultConnect runs sentinel discovery (spec.md §4.2) and dials the
// discovered primary with cfg.ConnectTimeout.
func defaultConnect(cfg Config) func(ctx context.Context) (store, error) {
	return func(ctx context.Context) (store, error) {
		primary, err := sentinel.Discover(ctx, cfg.Sentinels, cfg.SentinelConfig)
		if err != nil {
			return nil, fmt.Errorf("update: discover primary: %w", err)
		}
		client := redis.NewClient(&redis.Options{
			Addr:        primary.String(),
			DialTimeout: cfg.ConnectTimeout,
		})
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := client.Ping(dialCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("update: connect primary %s: %w", primary, err)
		}
		return clientAdapter{client}, nil
	}
}

// AcquireLocalLock creates cfg.LocalLockPath with exclusive create
// semantics and writes the current PID into it (spec.md §3, §4.10 step 1).
// Returns ErrAlreadyStarting on collision.
func (c *Coordinator) AcquireLocalLock() error {
	f, err := os.OpenFile(c.cfg.LocalLockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyStarting
		}
		return fmt.Errorf("update: create %s: %w", c.cfg.LocalLockPath, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return fmt.Errorf("update: write pid to %s: %w", c.cfg.LocalLockPath, err)
	}
	return nil
}

// ReleaseLocalLock removes cfg.LocalLockPath. Idempotent: a missing file
// is not an error.
func (c *Coordinator) ReleaseLocalLock() error {
	if err := os.Remove(c.cfg.LocalLockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("update: remove %s: %w", c.cfg.LocalLockPath, err)
	}
	return nil
}

// Startup runs the non-dev startup phase from spec.md §4.10: compare the
// current source revision against the one recorded in the store, trigger
// a rebuild-and-restart if they differ, otherwise release any stale
// distributed lock and report readiness.
//
// In dev mode (cfg.Dev), the rebuild check is skipped entirely (spec.md
// §6 ENVIRONMENT=dev) and Startup proceeds straight to the stale-lock
// release and ready signal.
func (c *Coordinator) Startup(ctx context.Context) error {
	if c.cfg.Dev {
		return c.releaseStaleLock(ctx)
	}

	revision, err := c.cfg.Revision(ctx)
	if err != nil {
		return fmt.Errorf("update: compute revision: %w", err)
	}

	conn, err := c.cfg.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	old, err := conn.GetSet(ctx, c.cfg.BuildHashKey, revision).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("update: compare build hash: %w", err)
	}

	if old != revision {
		c.logger.Info("source revision changed, rebuilding",
			"old", old, "new", revision)
		if err := c.cfg.Rebuild(ctx); err != nil {
			return fmt.Errorf("update: rebuild: %w", err)
		}
		if err := c.cfg.Restart(ctx); err != nil {
			return fmt.Errorf("update: restart after rebuild: %w", err)
		}
		return ErrRebuildRequired
	}

	return c.releaseLockUsing(ctx, conn)
}

// releaseStaleLock connects and releases the distributed update lock if
// this host was holding it across a restart, per spec.md §4.10 step 5.
func (c *Coordinator) releaseStaleLock(ctx context.Context) error {
	if _, err := os.Stat(c.cfg.LockKeyFilePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("update: stat %s: %w", c.cfg.LockKeyFilePath, err)
	}

	conn, err := c.cfg.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return c.releaseLockUsing(ctx, conn)
}

// releaseLockUsing releases the distributed update lock if
// updater-lock-key.txt is present (spec.md §4.10 step 5), using the CAS
// release script so a lock since reacquired by another host is left
// alone.
func (c *Coordinator) releaseLockUsing(ctx context.Context, conn store) error {
	identifier, err := os.ReadFile(c.cfg.LockKeyFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("update: read %s: %w", c.cfg.LockKeyFilePath, err)
	}

	if err := conn.Eval(ctx, releaseScript, []string{c.cfg.LockKey}, string(identifier)).Err(); err != nil {
		return fmt.Errorf("update: release lock: %w", err)
	}
	return os.Remove(c.cfg.LockKeyFilePath)
}

// newLockIdentifier generates the random 16-byte base64url identifier
// from spec.md §3 ("Lock records"): the 16 bytes of a version-4 UUID from
// uuid.NewRandom, base64url-encoded without padding rather than formatted
// as a UUID string. uuid.NewRandom draws from crypto/rand and fixes the
// version and variant bits, so 122 of the 128 bits are random.
func newLockIdentifier() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("update: generate lock identifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(id[:]), nil
}

// acquireDistributedLock implements spec.md §4.10 step 2: generate a
// fresh identifier, persist it to disk *before* attempting SET NX EX (the
// only ordering guarantee spec.md §5 makes for this component), then
// retry every cfg.LockRetry until acquired or ctx is canceled.
func (c *Coordinator) acquireDistributedLock(ctx context.Context, conn store) (acquired bool, err error) {
	identifier, err := newLockIdentifier()
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(c.cfg.LockKeyFilePath, []byte(identifier), 0o644); err != nil {
		return false, fmt.Errorf("update: write %s: %w", c.cfg.LockKeyFilePath, err)
	}

	for {
		ok, err := conn.SetNX(ctx, c.cfg.LockKey, identifier, c.cfg.LockTTL).Result()
		if err != nil {
			return false, fmt.Errorf("update: acquire lock: %w", err)
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(c.cfg.LockRetry):
		}
	}
}

// SteadyState drives the subscription loop from spec.md §4.10
// "Steady-state loop": discover the primary, subscribe to the updates
// channel, and on every message pause, acquire the distributed lock
// (retrying every LockRetry while another host holds it), then invoke the
// restart script once the lock is acquired or an acquisition attempt fails
// with a store error (spec.md §4.10 step 3: the lock is cooperative, not a
// hard prerequisite for restarting). SteadyState returns when ctx
// is canceled or Restart has been invoked (the caller should treat the
// latter as the process terminating).
func (c *Coordinator) SteadyState(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runOnce(ctx)
		if err == nil {
			return nil // Restart was invoked; process is terminating.
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		c.logger.LogError(err, "update: steady-state iteration failed, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectWait):
		}
	}
}

// runOnce connects, subscribes, and waits for exactly one update signal
// (or a subscription error), returning nil only once Restart has run.
func (c *Coordinator) runOnce(ctx context.Context) error {
	conn, err := c.cfg.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := conn.Subscribe(ctx, c.cfg.UpdatesChannel)
	defer sub.Close()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-sub.Channel():
		if !ok {
			return errors.New("update: subscription channel closed")
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.PostSignalWait):
	}

	acquired, lockErr := c.acquireDistributedLock(ctx, conn)
	if lockErr != nil {
		if errors.Is(lockErr, context.Canceled) || errors.Is(lockErr, context.DeadlineExceeded) {
			return lockErr
		}
		c.logger.LogError(lockErr, "update: lock acquisition failed, restarting anyway")
	} else if acquired {
		c.logger.Info("update lock acquired, restarting")
	}

	if err := c.cfg.Restart(ctx); err != nil {
		return fmt.Errorf("update: restart: %w", err)
	}
	return nil
}
