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

package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssrweb/frontend-ssr-web/internal/logging"
	"github.com/ssrweb/frontend-ssr-web/internal/stream"
	"github.com/ssrweb/frontend-ssr-web/internal/webhook"
)

func TestMiddleware_LogsSuccessfulRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.MustNew(logging.WithOutput(&buf))
	m := &Middleware{Registry: NewRegistry(context.Background()), Logger: logger}

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/shared/management/hello_world", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "request", entry["msg"])
	require.EqualValues(t, http.StatusTeapot, entry["status"])
}

func TestMiddleware_LogsCanceledOnClientDisconnect(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.MustNew(logging.WithOutput(&buf))
	m := &Middleware{Registry: NewRegistry(context.Background()), Logger: logger}

	started := make(chan struct{})
	unblock := make(chan struct{})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-unblock:
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/x", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()

	<-started
	cancel()
	<-done
	close(unblock)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "CANCELED", entry["msg"])
}

func TestMiddleware_SuppressesBenignTimeout(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.MustNew(logging.WithOutput(&buf))
	m := &Middleware{Registry: NewRegistry(context.Background()), Logger: logger}

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ReportError(r.Context(), stream.ErrReadTimeout)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "benign timeout", entry["msg"])
	require.Equal(t, "INFO", entry["level"])
}

func TestMiddleware_AlertsOnUnhandledError(t *testing.T) {
	received := make(chan webhook.Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a webhook.Alert
		_ = json.NewDecoder(r.Body).Decode(&a)
		received <- a
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := logging.MustNew(logging.WithOutput(&buf))
	alerter := webhook.New(map[string]string{"errors": srv.URL})
	m := &Middleware{Registry: NewRegistry(context.Background()), Logger: logger, Alerter: alerter}

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ReportError(r.Context(), errors.New("boom"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	select {
	case a := <-received:
		require.Equal(t, "boom", a.Message)
	case <-time.After(time.Second):
		t.Fatal("alert was not posted")
	}
}

func TestRegistry_CancelAllCancelsInFlightOps(t *testing.T) {
	reg := NewRegistry(context.Background())
	m := &Middleware{Registry: reg, Logger: logging.MustNew(logging.WithOutput(bytes.NewBuffer(nil)))}

	started := make(chan struct{})
	canceled := make(chan struct{})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		close(canceled)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()

	<-started
	require.Equal(t, 1, reg.Len())
	reg.CancelAll()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight request was not canceled")
	}
	<-done
	require.Equal(t, 0, reg.Len())
}

func TestHooks_ShutdownRunsLIFO(t *testing.T) {
	h := &Hooks{}
	var order []int
	h.OnShutdown(func(ctx context.Context) { order = append(order, 1) })
	h.OnShutdown(func(ctx context.Context) { order = append(order, 2) })
	h.OnShutdown(func(ctx context.Context) { order = append(order, 3) })

	h.executeShutdown(context.Background())
	require.Equal(t, []int{3, 2, 1}, order)
}

func TestHooks_StartStopsOnFirstError(t *testing.T) {
	h := &Hooks{}
	var ran []int
	h.OnStart(func(ctx context.Context) error { ran = append(ran, 1); return nil })
	h.OnStart(func(ctx context.Context) error { ran = append(ran, 2); return errors.New("fail") })
	h.OnStart(func(ctx context.Context) error { ran = append(ran, 3); return nil })

	err := h.executeStart(context.Background())
	require.Error(t, err)
	require.Equal(t, []int{1, 2}, ran)
}

func TestHooks_StopRecoversPanics(t *testing.T) {
	h := &Hooks{}
	ranAfter := false
	h.OnStop(func() { panic("boom") })
	h.OnStop(func() { ranAfter = true })

	var buf bytes.Buffer
	logger := logging.MustNew(logging.WithOutput(&buf))
	require.NotPanics(t, func() { h.executeStop(logger) })
	require.True(t, ranAfter)
}
