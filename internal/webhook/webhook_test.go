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

package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendPostsPayload(t *testing.T) {
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(map[string]string{"alerts": srv.URL})
	err := a.Send(context.Background(), "alerts", "unhandled error", map[string]string{"trace": "abc"})
	require.NoError(t, err)
	require.Equal(t, "alerts", received.Channel)
	require.Equal(t, "unhandled error", received.Message)
}

func TestSendUnknownChannelIsNoOp(t *testing.T) {
	a := New(map[string]string{})
	err := a.Send(context.Background(), "missing", "msg", nil)
	require.NoError(t, err)
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(map[string]string{"alerts": srv.URL})
	err := a.Send(context.Background(), "alerts", "msg", nil)
	require.Error(t, err)
}
