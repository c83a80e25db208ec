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

package schema

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"

	"github.com/andybalholm/brotli"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

// Info is the document-level metadata carried in the generated OpenAPI
// document, grounded on the openapi module's Spec.Info (title, version)
// without that module's full typed object graph: this server's schema has
// no request/response body schemas to describe beyond each route's own
// PathItem, so DocItem.OpenAPIPathItem already carries whatever shape the
// handler wants documented.
type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// Document is the minimal OpenAPI 3 document this service composes: a
// title/version header plus the path items every built route's DocItems
// contributed. Paths is `map[string]any` rather than a typed PathItem
// graph because routespec.DocItem.OpenAPIPathItem is itself opaque
// (filled in by each route's own handler factory).
type Document struct {
	OpenAPI string         `json:"openapi"`
	Info    Info           `json:"info"`
	Paths   map[string]any `json:"paths"`
}

// Compose builds a Document from the flat, docs-only view of every built
// route (internal/build's flatView / internal/router.Routes), skipping doc
// items that contribute no schema.
func Compose(info Info, flat []routespec.DocItem) Document {
	doc := Document{OpenAPI: "3.0.4", Info: info, Paths: make(map[string]any)}
	for _, item := range flat {
		if item.OpenAPIPathItem == nil {
			continue
		}
		doc.Paths[item.TemplatedPath] = item.OpenAPIPathItem
	}
	return doc
}

// Encodings is the fixed set of content-encodings the schema service
// generates and the HTTP surface negotiates (spec.md §6).
var Encodings = []string{"gzip", "deflate", "br", "identity"}

// Generate runs the sibling-process regeneration step from spec.md §4.9:
// for every encoding, write the compressed document to its .tmp sibling
// then atomically rename it into place. Partial files are never visible
// under their final name.
func Generate(dir string, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schema: marshal document: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("schema: mkdir %s: %w", dir, err)
	}

	for _, encoding := range Encodings {
		encoded, err := encode(body, encoding)
		if err != nil {
			return fmt.Errorf("schema: encode %s: %w", encoding, err)
		}
		tmp := tmpPath(dir, encoding)
		if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
			return fmt.Errorf("schema: write %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, snapshotPath(dir, encoding)); err != nil {
			return fmt.Errorf("schema: rename %s: %w", tmp, err)
		}
	}
	return nil
}

func encode(body []byte, encoding string) ([]byte, error) {
	if encoding == "identity" {
		return body, nil
	}

	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "deflate":
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "br":
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	return buf.Bytes(), nil
}
