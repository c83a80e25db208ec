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

// Package lifecycle implements the per-request timing middleware, the
// in-flight request registry that lets shutdown cancel outstanding
// handlers, and the four-step shutdown protocol from spec.md §4.11.
//
// Grounded on app/lifecycle.go's Hooks type (sequential OnStart, LIFO
// OnShutdown, best-effort-with-panic-recovery OnStop) and app/server.go's
// shutdown-with-timeout sequencing; the in-flight registry composes
// internal/cancel's Op/Group, finally giving that package a caller.
package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ssrweb/frontend-ssr-web/internal/cancel"
	"github.com/ssrweb/frontend-ssr-web/internal/logging"
	"github.com/ssrweb/frontend-ssr-web/internal/stream"
	"github.com/ssrweb/frontend-ssr-web/internal/webhook"
)

var tracer = otel.Tracer("ssrweb/lifecycle")

// Hooks mirrors app/lifecycle.go's Hooks: OnStart runs sequentially and
// aborts startup on first error, OnShutdown runs LIFO, OnStop is
// best-effort with panic recovery.
type Hooks struct {
	mu         sync.Mutex
	onStart    []func(context.Context) error
	onShutdown []func(context.Context)
	onStop     []func()
}

// OnStart registers a hook that must succeed before the server starts
// accepting connections.
func (h *Hooks) OnStart(fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onStart = append(h.onStart, fn)
}

// OnShutdown registers a hook invoked during the shutdown protocol's step
// 3, in LIFO order.
func (h *Hooks) OnShutdown(fn func(context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onShutdown = append(h.onShutdown, fn)
}

// OnStop registers a best-effort hook invoked after the listener has
// closed; panics are recovered and logged, never propagated.
func (h *Hooks) OnStop(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onStop = append(h.onStop, fn)
}

func (h *Hooks) executeStart(ctx context.Context) error {
	h.mu.Lock()
	hooks := append([]func(context.Context) error(nil), h.onStart...)
	h.mu.Unlock()

	for i, hook := range hooks {
		if err := hook(ctx); err != nil {
			return errors.New("OnStart hook " + itoa(i) + " failed: " + err.Error())
		}
	}
	return nil
}

func (h *Hooks) executeShutdown(ctx context.Context) {
	h.mu.Lock()
	hooks := append([]func(context.Context)(nil), h.onShutdown...)
	h.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](ctx)
	}
}

func (h *Hooks) executeStop(logger *logging.Logger) {
	h.mu.Lock()
	hooks := append([]func()(nil), h.onStop...)
	h.mu.Unlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("OnStop hook panic", "recovered", r)
				}
			}()
			hook()
		}()
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Registry tracks in-flight request operations so shutdown step 2 can
// cancel every one of them (spec.md §4.11). It is a thin wrapper over
// internal/cancel.Group: each request registers an Op for the duration of
// its handler and deregisters on completion.
type Registry struct {
	group *cancel.Group
	mu    sync.Mutex
	ops   map[*cancel.Op]struct{}
}

// NewRegistry creates an empty in-flight registry bound to parent: canceling
// parent cancels every currently-registered request.
func NewRegistry(parent context.Context) *Registry {
	return &Registry{
		group: cancel.NewGroup(parent),
		ops:   make(map[*cancel.Op]struct{}),
	}
}

// track registers a new Op for one request's duration and returns it along
// with a release func the caller must invoke exactly once when the
// request completes.
func (r *Registry) track() (*cancel.Op, func()) {
	op := cancel.New(r.group.Context())
	r.group.Add(op)

	r.mu.Lock()
	r.ops[op] = struct{}{}
	r.mu.Unlock()

	return op, func() {
		r.mu.Lock()
		delete(r.ops, op)
		r.mu.Unlock()
		r.group.Remove(op)
	}
}

// CancelAll cancels every currently in-flight Op (shutdown step 2).
func (r *Registry) CancelAll() {
	r.group.CancelAll()
}

// Len returns the number of currently in-flight requests, for tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// statusWriter wraps http.ResponseWriter to capture the status code and
// bytes written, grounded on the teacher router's responseWriter wrapper
// (router/context.go) adapted to plain net/http.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
	size    int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.written {
		return
	}
	w.written = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}

// benignTimeout reports whether err is one of the known benign timeout
// errors from internal/stream's error alphabet (spec.md §4.11: "log only
// a concise indicator and do not surface as an exception").
func benignTimeout(err error) bool {
	switch {
	case errors.Is(err, stream.ErrWriteTimeout),
		errors.Is(err, stream.ErrReadTimeout),
		errors.Is(err, stream.ErrContentTimeout),
		errors.Is(err, stream.ErrClientClosed):
		return true
	default:
		return false
	}
}

// ErrorReporter lets a handler report a terminal error to the lifecycle
// middleware for logging/suppression and, for unhandled errors, alerting.
// Handlers stash one on the request context; see WithReporter/ReporterFrom.
type ErrorReporter struct {
	mu  sync.Mutex
	err error
}

func (r *ErrorReporter) set(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *ErrorReporter) get() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

type ctxKey struct{ name string }

var (
	opCtxKey       = ctxKey{"op"}
	reporterCtxKey = ctxKey{"reporter"}
)

// OpFromContext returns the in-flight Op registered for this request, if
// any, so a handler can observe cancellation directly.
func OpFromContext(ctx context.Context) *cancel.Op {
	op, _ := ctx.Value(opCtxKey).(*cancel.Op)
	return op
}

// ReportError lets a handler record a terminal error against the current
// request so the timing middleware logs and (for unhandled errors) alerts
// appropriately instead of the middleware having to parse response state.
func ReportError(ctx context.Context, err error) {
	if r, ok := ctx.Value(reporterCtxKey).(*ErrorReporter); ok {
		r.set(err)
	}
}

// Middleware wraps next with the spec.md §4.11 timing/cancellation/
// logging behavior: records start time, registers an in-flight Op bound
// to the registry, dispatches to next with a context canceled on client
// disconnect or shutdown, and on completion logs method/path/status/
// duration — or "CANCELED" on cancellation, or a concise indicator for a
// reported benign-timeout error, or a full error log plus a best-effort
// webhook alert for anything else.
type Middleware struct {
	Registry *Registry
	Logger   *logging.Logger
	Alerter  *webhook.Alerter
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		op, release := m.Registry.track()
		defer release()

		reporter := &ErrorReporter{}
		reqCtx := context.WithValue(op.Context(), opCtxKey, op)
		reqCtx = context.WithValue(reqCtx, reporterCtxKey, reporter)

		reqCtx, span := tracer.Start(reqCtx, "http.request", trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		))
		defer span.End()

		// op's context derives from the registry's group context (so
		// shutdown can cancel it), but must also be canceled when this
		// specific client disconnects; chain the request's own context
		// cancellation into op.
		reqDone := make(chan struct{})
		go func() {
			select {
			case <-r.Context().Done():
				op.Cancel()
			case <-reqDone:
			}
		}()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(reqCtx))
		close(reqDone)
		op.Finish(reporter.get())

		dur := time.Since(start)

		if op.Canceled() {
			span.SetStatus(codes.Error, "canceled")
			m.Logger.Info("CANCELED", "method", r.Method, "path", r.URL.Path, "duration_ms", dur.Milliseconds())
			return
		}

		if err := reporter.get(); err != nil {
			if benignTimeout(err) {
				span.SetStatus(codes.Error, "benign timeout")
				m.Logger.Info("benign timeout", "method", r.Method, "path", r.URL.Path, "error", err.Error())
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			m.Logger.LogError(err, "unhandled request error", "method", r.Method, "path", r.URL.Path)
			if m.Alerter != nil {
				go func() {
					alertCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = m.Alerter.Send(alertCtx, "errors", err.Error(), map[string]string{
						"method": r.Method,
						"path":   r.URL.Path,
					})
				}()
			}
			return
		}

		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		m.Logger.LogRequest(r, sw.status, dur)
	})
}

// Server ties the Hooks and Registry together with the four-step shutdown
// protocol from spec.md §4.11.
type Server struct {
	Hooks    *Hooks
	Registry *Registry
	Logger   *logging.Logger
	Alerter  *webhook.Alerter

	httpServer *http.Server
}

// NewServer creates a Server bound to httpServer, with a fresh Hooks and
// Registry.
func NewServer(httpServer *http.Server, logger *logging.Logger, alerter *webhook.Alerter) *Server {
	return &Server{
		Hooks:      &Hooks{},
		Registry:   NewRegistry(context.Background()),
		Logger:     logger,
		Alerter:    alerter,
		httpServer: httpServer,
	}
}

// Start runs the OnStart hooks then starts httpServer.ListenAndServe in a
// background goroutine, returning once listening has begun or start hooks
// fail.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Hooks.executeStart(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-time.After(50 * time.Millisecond):
		// Listener came up without an immediate bind error; proceed.
	}
	return nil
}

// Shutdown runs the four-step shutdown protocol from spec.md §4.11:
//  1. stop accepting (close the listener via http.Server.Shutdown)
//  2. cancel all in-flight requests
//  3. invoke registered shutdown hooks
//  4. sleep a fixed 2s before the OnStop hooks run; the alert goroutines
//     that Middleware starts are not tracked, so this step neither waits
//     for their completion nor ends early when none are pending
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.Registry.CancelAll()

	s.Hooks.executeShutdown(ctx)

	time.Sleep(2 * time.Second)

	s.Hooks.executeStop(s.Logger)

	return err
}
