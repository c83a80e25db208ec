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

// Package metrics exposes Prometheus counters and gauges for router
// dispatch, build scheduler slot occupancy, and sentinel discovery
// attempts (SPEC_FULL.md §2, §3 "Metrics endpoint").
//
// Grounded on the teacher's metrics module for what gets measured (request
// outcome counters, in-flight gauges), but scaled down from its full
// OTel-provider abstraction (Prometheus/OTLP/stdout providers,
// path-filtering, event handlers) to a single Prometheus registry: this
// server has one exposition format (`/shared/metrics`), so the provider
// indirection the teacher needs for library consumers buys nothing here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge this server records.
type Registry struct {
	reg *prometheus.Registry

	RouterLookups       *prometheus.CounterVec
	BuildSlotsInUse     prometheus.Gauge
	BuildRoutesInserted prometheus.Counter
	SentinelAttempts    *prometheus.CounterVec
}

// New creates a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RouterLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssrweb_router_lookups_total",
			Help: "Router.Lookup outcomes by result (static_hit, async_hit, no_route, error).",
		}, []string{"result"}),
		BuildSlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ssrweb_build_slots_in_use",
			Help: "Build scheduler concurrency slots currently occupied.",
		}),
		BuildRoutesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssrweb_build_routes_inserted_total",
			Help: "Routes successfully inserted into the router by the build scheduler.",
		}),
		SentinelAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssrweb_sentinel_discovery_attempts_total",
			Help: "Sentinel discovery attempts by outcome (success, failure).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(r.RouterLookups, r.BuildSlotsInUse, r.BuildRoutesInserted, r.SentinelAttempts)
	return r
}

// Handler returns the /shared/metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
