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

// Package logging is a thin wrapper around log/slog, grounded on
// rivaas.dev/logging's shape (functional-option construction, New/MustNew,
// JSON vs console handler, a handful of convenience methods) but without
// that module's sampling, global-registration, or buffering machinery —
// SPEC_FULL.md's ambient stack only calls for the part of the teacher's
// design this server actually exercises: one *Logger, passed down
// explicitly everywhere (never a package-level global, matching the
// teacher's own avoidance of singletons for request-scoped state).
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// HandlerType selects the slog.Handler implementation.
type HandlerType string

const (
	JSONHandler    HandlerType = "json"
	ConsoleHandler HandlerType = "console"
)

// ErrNilLogger is returned by New when WithCustomLogger(nil) was used.
var ErrNilLogger = errors.New("logging: custom logger must not be nil")

// Option configures a Logger at construction time.
type Option func(*options)

type options struct {
	handler     HandlerType
	output      io.Writer
	level       slog.Level
	serviceName string
	custom      *slog.Logger
	useCustom   bool
}

// WithJSONHandler selects structured JSON output (the default).
func WithJSONHandler() Option { return func(o *options) { o.handler = JSONHandler } }

// WithConsoleHandler selects human-readable console output, for local
// development (spec.md SPEC_FULL §1.1).
func WithConsoleHandler() Option { return func(o *options) { o.handler = ConsoleHandler } }

// WithOutput overrides the output writer (default os.Stdout).
func WithOutput(w io.Writer) Option { return func(o *options) { o.output = w } }

// WithLevel sets the minimum log level (default slog.LevelInfo).
func WithLevel(l slog.Level) Option { return func(o *options) { o.level = l } }

// WithServiceName tags every log line with a "service" attribute.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithCustomLogger bypasses handler construction entirely, for tests that
// want to inject their own *slog.Logger.
func WithCustomLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.custom = l
		o.useCustom = true
	}
}

// Logger wraps *slog.Logger with the handful of request/error/duration
// helpers the request lifecycle (C11), the update coordinator (C10) and
// cmd/frontend-ssr-web use, passed down explicitly rather than reached for
// as a global. The build scheduler (C6) and sentinel discovery (C2) take
// no Logger; they report through returned errors and observer callbacks.
type Logger struct {
	slog *slog.Logger
}

// New constructs a Logger from opts, defaulting to JSON output at Info
// level tagged with service "frontend-ssr-web".
func New(opts ...Option) (*Logger, error) {
	o := &options{
		handler:     JSONHandler,
		output:      os.Stdout,
		level:       slog.LevelInfo,
		serviceName: "frontend-ssr-web",
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.useCustom {
		if o.custom == nil {
			return nil, ErrNilLogger
		}
		return &Logger{slog: o.custom}, nil
	}

	handlerOpts := &slog.HandlerOptions{Level: o.level}
	var handler slog.Handler
	switch o.handler {
	case ConsoleHandler:
		handler = slog.NewTextHandler(o.output, handlerOpts)
	case JSONHandler:
		handler = slog.NewJSONHandler(o.output, handlerOpts)
	default:
		return nil, fmt.Errorf("logging: unknown handler type %q", o.handler)
	}

	base := slog.New(handler)
	if o.serviceName != "" {
		base = base.With("service", o.serviceName)
	}
	return &Logger{slog: base}, nil
}

// MustNew is New, panicking on error. Used at startup where a bad logging
// configuration is itself a fatal misconfiguration.
func MustNew(opts ...Option) *Logger {
	l, err := New(opts...)
	if err != nil {
		panic("logging: " + err.Error())
	}
	return l
}

// Slog returns the underlying *slog.Logger, for collaborators (otel,
// gorqlite, go-redis) that want a standard logger rather than this
// package's helpers.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// With returns a Logger carrying additional structured attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// LogRequest logs one request lifecycle line (spec.md §4.11): method,
// path, status, duration, plus any extra attributes the caller supplies.
func (l *Logger) LogRequest(r *http.Request, status int, dur time.Duration, extra ...any) {
	attrs := make([]any, 0, 8+len(extra))
	attrs = append(attrs,
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"duration_ms", dur.Milliseconds(),
	)
	attrs = append(attrs, extra...)
	l.Info("request", attrs...)
}

// LogError logs err with msg and any extra structured attributes.
func (l *Logger) LogError(err error, msg string, extra ...any) {
	attrs := make([]any, 0, 2+len(extra))
	attrs = append(attrs, "error", err.Error())
	attrs = append(attrs, extra...)
	l.Error(msg, attrs...)
}

// LogDuration logs msg with the elapsed time since start.
func (l *Logger) LogDuration(msg string, start time.Time, extra ...any) {
	attrs := make([]any, 0, 2+len(extra))
	attrs = append(attrs, "duration_ms", time.Since(start).Milliseconds())
	attrs = append(attrs, extra...)
	l.Info(msg, attrs...)
}

// ctxKey is an unexported type for the context value the request
// lifecycle stashes a request-scoped Logger under.
type ctxKey struct{}

// WithContext returns a context carrying l, retrievable with FromContext.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger stashed by WithContext, or fallback if
// none was stashed.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return fallback
}
