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
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// buildRevision shells out to the version-control query spec.md §1 keeps
// out of internal/update's scope: "git rev-parse HEAD" for whatever
// checkout this binary is running from.
func buildRevision(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("revision: git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// buildRebuild shells out to the JavaScript build toolchain spec.md §1
// keeps out of internal/update's scope, via a script path the deployment
// environment is expected to supply (default "./scripts/rebuild.sh",
// overridable with REBUILD_SCRIPT, mirroring the WEBHOOK_* convention
// internal/config already uses for environment-supplied paths).
func buildRebuild(ctx context.Context) error {
	script := os.Getenv("REBUILD_SCRIPT")
	if script == "" {
		script = "./scripts/rebuild.sh"
	}
	cmd := exec.CommandContext(ctx, script)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rebuild: run %s: %w", script, err)
	}
	return nil
}

// buildRestart execs this same binary in place, grounded on the
// teacher's reload_unix.go self-restart idiom (a SIGHUP-driven reload
// there; here the update coordinator decides when to restart, so the
// replacement happens directly rather than through a signal handler).
// syscall.Exec replaces the process image, so on success this call never
// returns.
func buildRestart(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("restart: resolve executable: %w", err)
	}
	return execSelf(exe, os.Args, os.Environ())
}
