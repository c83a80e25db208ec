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

package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ssrweb/frontend-ssr-web/internal/lifecycle"
	"github.com/ssrweb/frontend-ssr-web/internal/router"
)

// routerDispatcher adapts router.Router.Lookup to an http.Handler: every
// request not answered by the small set of process-level endpoints
// (healthz/readyz/metrics) flows through the declarative route table
// built at startup.
func routerDispatcher(rtr *router.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, err := rtr.Lookup(r.Context(), r.Method, r.URL.RequestURI())
		if err != nil {
			if errors.Is(err, router.ErrNoRoute) {
				http.NotFound(w, r)
				return
			}
			lifecycle.ReportError(r.Context(), fmt.Errorf("router: lookup: %w", err))
			http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
			return
		}
		route.Handler.ServeHTTP(w, r)
	})
}

// newMux assembles the top-level handler: the process endpoints mounted
// by exact pattern (http.ServeMux prefers the most specific pattern, so
// these always win over the "/" catch-all) plus the declarative route
// table as the fallback.
func newMux(rtr *router.Router, metricsHandler, healthz, readyz http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/shared/metrics", metricsHandler)
	mux.Handle("/shared/healthz", healthz)
	mux.Handle("/shared/readyz", readyz)
	mux.Handle("/", routerDispatcher(rtr))
	return mux
}
