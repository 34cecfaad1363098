// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Server.Name = "example.org"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Server.Address != "127.0.0.1:8008" {
		t.Errorf("expected address=127.0.0.1:8008, got %s", cfg.Server.Address)
	}
	if cfg.Cache.Backend != CacheMemory {
		t.Errorf("expected cache backend=memory, got %s", cfg.Cache.Backend)
	}
	if cfg.Database.PoolSize != 4 {
		t.Errorf("expected pool_size=4, got %d", cfg.Database.PoolSize)
	}
	if !cfg.HTTP.GzipCompression {
		t.Error("expected gzip_compression=true by default")
	}
}

func TestLoad_RequiresEnvVar(t *testing.T) {
	t.Setenv(EnvVar, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when CONTINUWUITY_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "CONTINUWUITY_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_WithEnvVar(t *testing.T) {
	configPath := writeConfig(t, "continuwuity.yaml", `
environment: staging
server:
  name: staging.example.org
`)
	t.Setenv(EnvVar, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Server.Name != "staging.example.org" {
		t.Errorf("expected name=staging.example.org, got %s", cfg.Server.Name)
	}
	if cfg.Path != configPath {
		t.Errorf("expected Path=%s, got %s", configPath, cfg.Path)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, "continuwuity.yaml", `
environment: staging

server:
  name: example.org
  address: 0.0.0.0:6167
  well_known:
    client: https://matrix.example.org

database:
  path: /var/lib/continuwuity/db.sqlite
  pool_size: 8

cache:
  backend: redis
  redis_url: redis://localhost:6379/2
  ttl: 90s

http:
  max_request_size: 1048576
  gzip_compression: false

registration:
  token: let-me-in

logging:
  level: debug
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Server.Address != "0.0.0.0:6167" {
		t.Errorf("expected address=0.0.0.0:6167, got %s", cfg.Server.Address)
	}
	if cfg.Server.WellKnown.Client != "https://matrix.example.org" {
		t.Errorf("expected well_known.client, got %q", cfg.Server.WellKnown.Client)
	}
	if cfg.Database.PoolSize != 8 {
		t.Errorf("expected pool_size=8, got %d", cfg.Database.PoolSize)
	}
	if cfg.Cache.Backend != CacheRedis || cfg.Cache.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("expected ttl=90s, got %s", cfg.Cache.TTL)
	}
	if cfg.Cache.KeyPrefix != "continuwuity:" {
		t.Errorf("expected default key prefix to survive, got %q", cfg.Cache.KeyPrefix)
	}
	if cfg.HTTP.MaxRequestSize != 1048576 {
		t.Errorf("expected max_request_size=1048576, got %d", cfg.HTTP.MaxRequestSize)
	}
	if cfg.HTTP.GzipCompression {
		t.Error("expected gzip_compression=false")
	}
	if cfg.Registration.Token != "let-me-in" {
		t.Errorf("expected registration token, got %q", cfg.Registration.Token)
	}
	if cfg.LogLevel().String() != "DEBUG" {
		t.Errorf("expected DEBUG level, got %s", cfg.LogLevel())
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	configPath := writeConfig(t, "continuwuity.jsonc", `{
  // Comments are allowed in .jsonc files.
  "environment": "development",
  "server": {
    "name": "json.example.org", /* inline too */
  },
  "cache": {"ttl": "1m"},
}`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.Name != "json.example.org" {
		t.Errorf("expected name=json.example.org, got %s", cfg.Server.Name)
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("expected ttl=1m, got %s", cfg.Cache.TTL)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: expected os.ErrNotExist, got %v", err)
	}

	configPath := writeConfig(t, "broken.yaml", "server: [unterminated\n")
	if _, err := LoadFile(configPath); err == nil {
		t.Error("expected parse error for malformed YAML")
	}
}

func TestDigest(t *testing.T) {
	content := "server:\n  name: example.org\n"
	first, err := LoadFile(writeConfig(t, "a.yaml", content))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	second, err := LoadFile(writeConfig(t, "b.yaml", content))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	changed, err := LoadFile(writeConfig(t, "c.yaml", content+"# edited\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if len(first.Digest) != 64 {
		t.Errorf("expected 64 hex characters, got %d (%q)", len(first.Digest), first.Digest)
	}
	if first.Digest != second.Digest {
		t.Errorf("identical files produced different digests: %s vs %s", first.Digest, second.Digest)
	}
	if first.Digest == changed.Digest {
		t.Error("edited file produced the same digest")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, "continuwuity.yaml", `
environment: production

server:
  name: example.org
  address: 127.0.0.1:8008

http:
  gzip_compression: true

logging:
  level: debug

staging:
  server:
    address: 127.0.0.1:9999

production:
  server:
    address: 0.0.0.0:443
  http:
    gzip_compression: false
  logging:
    level: warn
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Address != "0.0.0.0:443" {
		t.Errorf("expected address=0.0.0.0:443, got %s", cfg.Server.Address)
	}
	if cfg.Server.Name != "example.org" {
		t.Errorf("override without name clobbered server.name: %q", cfg.Server.Name)
	}
	if cfg.HTTP.GzipCompression {
		t.Error("expected gzip_compression=false from production override")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected level=warn, got %s", cfg.Logging.Level)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/matrix")
	t.Setenv("CONTINUWUITY_TEST_TOKEN_DIR", "")

	configPath := writeConfig(t, "continuwuity.yaml", `
server:
  name: example.org
database:
  path: ${HOME}/data/continuwuity.db
control:
  socket_path: ${CONTINUWUITY_ROOT}/control.sock
registration:
  token_file: ${CONTINUWUITY_TEST_TOKEN_DIR:-/etc/continuwuity}/token
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Database.Path != "/home/matrix/data/continuwuity.db" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Control.SocketPath != "/home/matrix/data/control.sock" {
		t.Errorf("control.socket_path = %q", cfg.Control.SocketPath)
	}
	if cfg.Registration.TokenFile != "/etc/continuwuity/token" {
		t.Errorf("registration.token_file = %q", cfg.Registration.TokenFile)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/continuwuity",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/continuwuity",
		},
		{
			input:    "${CONTINUWUITY_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.Environment = "invalid" },
			wantErr: "invalid environment",
		},
		{
			name:    "missing server name",
			modify:  func(c *Config) { c.Server.Name = "" },
			wantErr: "server.name is required",
		},
		{
			name:    "server name with user part",
			modify:  func(c *Config) { c.Server.Name = "@alice:example.org" },
			wantErr: "not a valid server name",
		},
		{
			name:    "address without port",
			modify:  func(c *Config) { c.Server.Address = "localhost" },
			wantErr: "server.address",
		},
		{
			name:    "relative well-known client",
			modify:  func(c *Config) { c.Server.WellKnown.Client = "matrix.example.org" },
			wantErr: "server.well_known.client",
		},
		{
			name:    "zero pool size",
			modify:  func(c *Config) { c.Database.PoolSize = 0 },
			wantErr: "database.pool_size",
		},
		{
			name:    "redis without url",
			modify:  func(c *Config) { c.Cache.Backend = CacheRedis },
			wantErr: "cache.redis_url",
		},
		{
			name:    "unknown cache backend",
			modify:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "cache.backend",
		},
		{
			name:    "non-positive body limit",
			modify:  func(c *Config) { c.HTTP.MaxRequestSize = 0 },
			wantErr: "http.max_request_size",
		},
		{
			name: "token and token file",
			modify: func(c *Config) {
				c.Registration.Token = "a"
				c.Registration.TokenFile = "/etc/token"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Name = ""
	cfg.Database.PoolSize = -1
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"server.name", "database.pool_size", "logging.level"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %s", err, fragment)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := validConfig()
	cfg.Database.Path = filepath.Join(tmpDir, "data", "continuwuity.db")
	cfg.Control.SocketPath = filepath.Join(tmpDir, "run", "control.sock")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	for _, path := range []string{filepath.Join(tmpDir, "data"), filepath.Join(tmpDir, "run")} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("path %s not created: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("path %s is not a directory", path)
		}
	}
}
