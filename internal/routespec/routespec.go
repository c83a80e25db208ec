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

// Package routespec defines the declarative route-descriptor shape from
// spec.md §3 ("Route descriptor"): the pre-build data applications provide
// statically, realized exactly once at startup by internal/build and
// inserted into internal/router.
package routespec

import (
	"context"
	"net/http"
)

// PathMatcher is either a literal path (fast hash lookup, phase one of
// internal/router's two-phase dispatch) or an opaque async predicate
// (phase two, evaluated with bounded concurrency in insertion order).
//
// Deliberately not unified behind one predicate signature: the literal
// case participates in an entirely different lookup phase, and collapsing
// the two would force every literal route through an async call it never
// needs (spec.md §9 "Dynamic path matcher").
type PathMatcher interface {
	isPathMatcher()
}

// Literal is a path matcher that requires byte-exact equality with the
// request's path component (before any query string).
type Literal string

func (Literal) isPathMatcher() {}

// Async is a path matcher that may consult external state — including the
// request context — to decide whether a URL belongs to the route. It
// returns promptly on ctx cancellation.
type Async func(ctx context.Context, path string) (bool, error)

func (Async) isPathMatcher() {}

// HandlerFactory builds the live handler for a descriptor. It is called
// exactly once, at build time, with the run configuration. Config is an
// opaque `any` so routespec has no dependency on the server's concrete
// configuration type.
type HandlerFactory func(ctx context.Context, config any) (http.Handler, error)

// DocItem documents one templated path a descriptor may serve, used by the
// sitemap and OpenAPI meta-routes. A descriptor may contribute zero or
// more DocItems (spec.md §3: "0..n items").
type DocItem struct {
	// TemplatedPath is a human/machine readable template, e.g. "/users/:id".
	TemplatedPath string
	// SitemapEntries yields the concrete sitemap entries this doc item
	// expands to, pushing batches to push. Nil if this item contributes no
	// sitemap entries (e.g. an API-only route).
	SitemapEntries func(ctx context.Context, push func(context.Context, []SitemapEntry) error) error
	// OpenAPIPathItem is the OpenAPI path-item object for this template, as
	// a pre-built JSON-able value. Nil if this item contributes no schema.
	OpenAPIPathItem any
}

// SitemapEntry is the streamed sitemap entry from spec.md §3.
type SitemapEntry struct {
	// Path must begin with '/'.
	Path string
	// Fingerprint is an opaque hash of the rendered significant content;
	// it must depend only on content whose change should update lastmod.
	Fingerprint [64]byte // 512-bit, per GLOSSARY
}

// Descriptor is a route descriptor: declarative route shape before any
// build-time work has run.
type Descriptor struct {
	// Methods is the set of HTTP methods this route answers.
	Methods []string
	// Path selects which requests belong to this route.
	Path PathMatcher
	// NewHandler is invoked once at build time to realize the handler.
	NewHandler HandlerFactory
	// Docs documents the paths this descriptor serves.
	Docs []DocItem
}

// Factory is a descriptor that, instead of being realized directly,
// asynchronously yields a list of Descriptors to realize as one atomic
// build slot (spec.md §4.6: "closely related bundles that must be built
// sequentially"). Factory-produced descriptors are realized sequentially
// within the slot that claimed the Factory, never recursively claiming new
// slots, to avoid deadlock.
type Factory func(ctx context.Context, config any) ([]Descriptor, error)

// Entry is one (prefix, descriptor-or-factory) pair in the declarative
// route table consumed by internal/build.
type Entry struct {
	Prefix     string
	Descriptor *Descriptor
	Factory    Factory
}
