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

// Package config assembles the server's run configuration from the CLI
// flag surface and named environment variables in spec.md §6. Unlike the
// teacher's config module (a generic nested-key source/codec system meant
// for arbitrary application config trees), this spec has a small, fixed
// set of named settings, so this package is a flat struct populated once
// at startup and validated in one place — fail fast, matching the
// teacher's own validation discipline (app.ConfigError) without pulling in
// its generic source machinery.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// Error is a structured configuration validation failure, modeled on the
// teacher's app.ConfigError: field-level detail for CLI/log display.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Config is the fully resolved run configuration: CLI flags plus the
// named environment variables, validated once at startup. Flags take
// precedence where both exist (spec.md §1.3).
type Config struct {
	Host string
	Port int

	SSLCertFile string
	SSLKeyFile  string

	ReuseArtifacts bool
	NoServe        bool

	BuildParallelism       int
	PathResolveParallelism int

	// RQLiteAddrs are the SQL-over-HTTP database endpoints. Required for
	// any route that consults the database.
	RQLiteAddrs []string
	// RedisSentinels are the key-value-store sentinel endpoints. Required
	// for any route that uses the store and for the update coordinator.
	RedisSentinels []string
	// RootFrontendURL is required to generate the sitemap.
	RootFrontendURL string
	// Environment is "dev", "staging", "production", etc. In "dev" the
	// startup rebuild check and the "ready" notification are skipped.
	Environment string
	// WebhookURLs maps a logical alert channel name to its webhook URL.
	WebhookURLs map[string]string
}

// IsDev reports whether ENVIRONMENT is "dev" (spec.md §6).
func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// TLSEnabled reports whether both certificate and key paths were supplied
// (spec.md §6: "TLS is enabled when and only when both... are supplied").
func (c *Config) TLSEnabled() bool {
	return c.SSLCertFile != "" && c.SSLKeyFile != ""
}

// FlagSet builds the pflag.FlagSet for the CLI surface in spec.md §6.
// pflag is used instead of stdlib flag because it supports the GNU-style
// "--long-flag" surface the spec names, which stdlib flag does not
// distinguish from "-long-flag".
func FlagSet(name string) (*pflag.FlagSet, *Config) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	c := &Config{}

	fs.StringVar(&c.Host, "host", "0.0.0.0", "address to bind the HTTP(S) listener to")
	fs.IntVar(&c.Port, "port", 8080, "port to bind the HTTP(S) listener to")
	fs.StringVar(&c.SSLCertFile, "ssl-certfile", "", "TLS certificate path; requires --ssl-keyfile")
	fs.StringVar(&c.SSLKeyFile, "ssl-keyfile", "", "TLS key path; requires --ssl-certfile")
	fs.BoolVar(&c.ReuseArtifacts, "reuse-artifacts", false, "reuse build/routes/... from a prior run instead of rebuilding")
	fs.BoolVar(&c.NoServe, "no-serve", false, "build routes and exit without starting the listener")
	fs.IntVar(&c.BuildParallelism, "build-parallelism", 1, "max concurrent route descriptor realizations")
	fs.IntVar(&c.PathResolveParallelism, "path-resolve-parallelism", 10, "max concurrent async path-matcher evaluations")

	return fs, c
}

// ApplyEnv fills in the named environment variables from spec.md §6.
// Flags parsed from FlagSet already hold their CLI/default values; ApplyEnv
// only adds the settings that have no flag equivalent.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("RQLITE_IPS"); v != "" {
		c.RQLiteAddrs = splitCSV(v)
	}
	if v := getenv("REDIS_IPS"); v != "" {
		c.RedisSentinels = splitCSV(v)
	}
	c.RootFrontendURL = getenv("ROOT_FRONTEND_URL")
	c.Environment = getenv("ENVIRONMENT")

	c.WebhookURLs = make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		if name, ok := strings.CutPrefix(k, "WEBHOOK_"); ok {
			c.WebhookURLs[strings.ToLower(name)] = v
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration once at startup. A missing required
// flag or malformed TLS pair is a startup error (exit code 1, spec.md §6).
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &Error{Field: "port", Message: "must be between 1 and 65535"}
	}
	if (c.SSLCertFile == "") != (c.SSLKeyFile == "") {
		return &Error{Field: "ssl-certfile/ssl-keyfile", Message: "both or neither must be supplied"}
	}
	if c.BuildParallelism <= 0 {
		return &Error{Field: "build-parallelism", Message: "must be positive"}
	}
	if c.PathResolveParallelism <= 0 {
		return &Error{Field: "path-resolve-parallelism", Message: "must be positive"}
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
