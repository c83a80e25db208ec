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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlagSetDefaults(t *testing.T) {
	fs, c := FlagSet("test")
	require.NoError(t, fs.Parse(nil))
	require.Equal(t, "0.0.0.0", c.Host)
	require.Equal(t, 8080, c.Port)
	require.Equal(t, 1, c.BuildParallelism)
	require.Equal(t, 10, c.PathResolveParallelism)
	require.False(t, c.ReuseArtifacts)
	require.False(t, c.NoServe)
}

func TestFlagSetOverrides(t *testing.T) {
	fs, c := FlagSet("test")
	require.NoError(t, fs.Parse([]string{
		"--host", "127.0.0.1",
		"--port", "9090",
		"--build-parallelism", "4",
		"--reuse-artifacts",
	}))
	require.Equal(t, "127.0.0.1", c.Host)
	require.Equal(t, 9090, c.Port)
	require.Equal(t, 4, c.BuildParallelism)
	require.True(t, c.ReuseArtifacts)
	require.Equal(t, "127.0.0.1:9090", c.Addr())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RQLITE_IPS":        "10.0.0.1:4001,10.0.0.2:4001",
		"REDIS_IPS":         "10.0.1.1:26379",
		"ROOT_FRONTEND_URL": "https://example.com",
		"ENVIRONMENT":       "dev",
	}
	c := &Config{}
	c.ApplyEnv(func(k string) string { return env[k] })

	require.Equal(t, []string{"10.0.0.1:4001", "10.0.0.2:4001"}, c.RQLiteAddrs)
	require.Equal(t, []string{"10.0.1.1:26379"}, c.RedisSentinels)
	require.Equal(t, "https://example.com", c.RootFrontendURL)
	require.True(t, c.IsDev())
}

func TestValidate(t *testing.T) {
	c := &Config{Port: 8080, BuildParallelism: 1, PathResolveParallelism: 10}
	require.NoError(t, c.Validate())

	bad := &Config{Port: 0, BuildParallelism: 1, PathResolveParallelism: 10}
	require.Error(t, bad.Validate())

	mismatched := &Config{Port: 8080, SSLCertFile: "cert.pem", BuildParallelism: 1, PathResolveParallelism: 10}
	require.Error(t, mismatched.Validate())
}

func TestTLSEnabled(t *testing.T) {
	c := &Config{}
	require.False(t, c.TLSEnabled())
	c.SSLCertFile = "cert.pem"
	require.False(t, c.TLSEnabled())
	c.SSLKeyFile = "key.pem"
	require.True(t, c.TLSEnabled())
}
