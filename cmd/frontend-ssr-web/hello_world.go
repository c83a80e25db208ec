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
	"context"
	"encoding/json"
	"net/http"

	"github.com/ssrweb/frontend-ssr-web/internal/routespec"
)

const helloWorldPath = "/shared/management/hello_world"

// helloWorldEntry is the one illustrative business route SPEC_FULL.md
// names explicitly: GET returns a fixed greeting, POST echoes the
// "message" field back as "pong" (the round-trip law in spec.md §8).
var helloWorldEntry = routespec.Entry{
	Prefix: "/shared/management",
	Descriptor: &routespec.Descriptor{
		Methods:    []string{http.MethodGet, http.MethodPost},
		Path:       routespec.Literal(helloWorldPath),
		NewHandler: newHelloWorldHandler,
		Docs: []routespec.DocItem{{
			TemplatedPath:   helloWorldPath,
			OpenAPIPathItem: helloWorldPathItem,
		}},
	},
}

var helloWorldPathItem = map[string]any{
	"get": map[string]any{
		"summary": "Fixed greeting",
		"responses": map[string]any{
			"200": map[string]any{"description": "OK"},
		},
	},
	"post": map[string]any{
		"summary": "Echo message as pong",
		"responses": map[string]any{
			"200": map[string]any{"description": "OK"},
			"400": map[string]any{"description": "malformed or oversized body"},
		},
	},
}

type helloWorldRequest struct {
	Message string `json:"message"`
}

type helloWorldGreeting struct {
	Message string `json:"message"`
}

type helloWorldPong struct {
	Pong string `json:"pong"`
}

// maxHelloWorldMessage is the bound spec.md §8's round-trip law states
// the property over: "for any S of length <= 255".
const maxHelloWorldMessage = 255

func newHelloWorldHandler(ctx context.Context, config any) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(helloWorldGreeting{Message: "Hello, world!"})
		case http.MethodPost:
			var req helloWorldRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil || len(req.Message) > maxHelloWorldMessage {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "malformed or oversized body"})
				return
			}
			_ = json.NewEncoder(w).Encode(helloWorldPong{Pong: req.Message})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}), nil
}
