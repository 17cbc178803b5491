// Copyright 2025 The darve-server Authors
// This file is part of darve-server.
//
// darve-server is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// darve-server is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with darve-server. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig
	cfg.JWTSecret = "test-secret"
	cfg.HTTPAddr = "127.0.0.1:0"
	return cfg
}

func TestNodeLifecycle(t *testing.T) {
	n, err := New(context.Background(), testConfig())
	require.NoError(t, err)

	require.NoError(t, n.Start())
	require.NoError(t, n.Start()) // idempotent

	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop()) // idempotent
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = ""
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "darve.toml")
	data := `
HTTPAddr = ":9090"
JWTSecret = "from-file"
TokenTTL = 3600000000000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, "from-file", cfg.JWTSecret)
	require.Equal(t, time.Hour, cfg.TokenTTL)

	// Defaults survive for keys the file does not set.
	require.Equal(t, DefaultConfig.SweepInterval, cfg.SweepInterval)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "darve.toml")
	require.NoError(t, os.WriteFile(path, []byte("NoSuchKey = 1\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DARVE_HTTP_ADDR", ":7070")

	cfg := DefaultConfig
	cfg.ApplyEnv()
	require.Equal(t, "from-env", cfg.JWTSecret)
	require.Equal(t, ":7070", cfg.HTTPAddr)
}
