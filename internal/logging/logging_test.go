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

package logging

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
)

func TestNewJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(WithJSONHandler(), WithOutput(&buf), WithServiceName("ssrweb"))
	require.NoError(t, err)

	l.Info("hello", "k", "v")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["msg"])
	require.Equal(t, "ssrweb", entry["service"])
	require.Equal(t, "v", entry["k"])
}

func TestLogRequest(t *testing.T) {
	var buf bytes.Buffer
	l := MustNew(WithOutput(&buf))
	req := httptest.NewRequest(http.MethodGet, "/shared/management/hello_world", nil)

	l.LogRequest(req, 200, 5*time.Millisecond)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "GET", entry["method"])
	require.EqualValues(t, 200, entry["status"])
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	l := MustNew(WithOutput(&buf))
	l.LogError(errors.New("boom"), "failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "boom", entry["error"])
}

func TestNilCustomLogger(t *testing.T) {
	_, err := New(WithCustomLogger(nil))
	require.ErrorIs(t, err, ErrNilLogger)
}

func TestContextRoundTrip(t *testing.T) {
	l := MustNew()
	ctx := WithContext(context.Background(), l)
	require.Same(t, l, FromContext(ctx, nil))

	fallback := MustNew()
	require.Same(t, fallback, FromContext(context.Background(), fallback))
}
