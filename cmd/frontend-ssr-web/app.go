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
	"github.com/ssrweb/frontend-ssr-web/internal/integrations"
	"github.com/ssrweb/frontend-ssr-web/internal/logging"
	"github.com/ssrweb/frontend-ssr-web/internal/metrics"
	"github.com/ssrweb/frontend-ssr-web/internal/stream"
	"github.com/ssrweb/frontend-ssr-web/internal/webhook"
)

// sharedPipe is the one stream.Pipe every streamed response (schema,
// sitemap) is served through, carrying the write/read/content watchdog
// defaults from spec.md §4.7 uniformly.
var sharedPipe = stream.New()

// appConfig is the `config any` every routespec.HandlerFactory and
// build.MetaRouteProvider in this binary receives, carrying the
// collaborators a route's handler factory may need to close over.
// routespec deliberately keeps config opaque (see routespec.go) so this
// type lives here, at the integration boundary, rather than in any
// internal package.
type appConfig struct {
	logger            *logging.Logger
	metricsReg        *metrics.Registry
	alerter           *webhook.Alerter
	integrationsCfg   integrations.Config
	schemaDir         string
	sitemapBaseURL    string
}
