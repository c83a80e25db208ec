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

// Readiness gating is grounded on the teacher's app/health_readiness.go
// Gate/ReadinessManager pattern, scaled down to the one gate this server
// needs (the build scheduler has finished and the update coordinator has
// reported startup is safe to serve) rather than that module's general
// named-gate registry.
package main

import (
	"net/http"
	"sync/atomic"
)

// readiness is flipped true once build.Scheduler.Run has frozen the
// router and update.Coordinator.Startup has returned nil (spec.md §4.10
// "C10 gates listener start").
type readiness struct {
	ready atomic.Bool
}

func (r *readiness) markReady() { r.ready.Store(true) }

func healthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func readyzHandler(rd *readiness) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rd.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
