// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable read by [Load].
const EnvVar = "CONTINUWUITY_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Cache backends accepted by cache.backend.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the master configuration for the homeserver.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Cache        CacheConfig        `yaml:"cache"`
	HTTP         HTTPConfig         `yaml:"http"`
	Control      ControlConfig      `yaml:"control"`
	Registration RegistrationConfig `yaml:"registration"`
	Logging      LoggingConfig      `yaml:"logging"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`

	// Path is the file this configuration was loaded from.
	Path string `yaml:"-"`

	// Digest is the hex blake3 digest of the raw file bytes.
	Digest string `yaml:"-"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Server   *ServerConfig   `yaml:"server,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Cache    *CacheConfig    `yaml:"cache,omitempty"`
	HTTP     *HTTPConfig     `yaml:"http,omitempty"`
	Logging  *LoggingConfig  `yaml:"logging,omitempty"`
}

// ServerConfig identifies the homeserver and where it listens.
type ServerConfig struct {
	// Name is the Matrix server name (the part after the colon in user IDs).
	Name string `yaml:"name"`

	// Address is the TCP listen address.
	// Default: 127.0.0.1:8008
	Address string `yaml:"address"`

	// WellKnown configures the /.well-known/matrix responses. Empty
	// fields make the corresponding endpoint answer 404.
	WellKnown WellKnownConfig `yaml:"well_known"`
}

// WellKnownConfig holds delegation targets.
type WellKnownConfig struct {
	// Client is the client-server API base URL, e.g. https://matrix.example.org.
	Client string `yaml:"client"`

	// Server is the federation delegation target, e.g. matrix.example.org:443.
	Server string `yaml:"server"`
}

// DatabaseConfig configures the sqlite store. Each generation opens
// its own pool on this path.
type DatabaseConfig struct {
	// Path is the sqlite database file.
	Path string `yaml:"path"`

	// PoolSize is the number of pooled connections.
	// Default: 4
	PoolSize int `yaml:"pool_size"`
}

// CacheConfig selects and configures the lookup cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	// Default: memory
	Backend string `yaml:"backend"`

	// RedisURL is a redis:// URL, required for the redis backend.
	RedisURL string `yaml:"redis_url"`

	// KeyPrefix namespaces keys in a shared redis.
	// Default: continuwuity:
	KeyPrefix string `yaml:"key_prefix"`

	// TTL bounds how long a cached lookup is served.
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`
}

// HTTPConfig configures the request layers.
type HTTPConfig struct {
	// MaxRequestSize caps request bodies in bytes.
	// Default: 20 MiB
	MaxRequestSize int64 `yaml:"max_request_size"`

	// GzipCompression enables gzip response compression.
	GzipCompression bool `yaml:"gzip_compression"`

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// ControlConfig configures the admin control socket.
type ControlConfig struct {
	// SocketPath is the Unix socket the control server listens on.
	// Default: ${CONTINUWUITY_ROOT}/control.sock
	SocketPath string `yaml:"socket_path"`
}

// RegistrationConfig configures account registration.
type RegistrationConfig struct {
	// Token is a static registration token. It is always valid, never
	// revocable, and its uses are not tracked.
	Token string `yaml:"token"`

	// TokenFile names a file whose trimmed contents are the static
	// token. Mutually exclusive with Token.
	TokenFile string `yaml:"token_file"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist to give every field a sensible value; the config file is
// still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "continuwuity")

	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Address: "127.0.0.1:8008",
		},
		Database: DatabaseConfig{
			Path:     filepath.Join(defaultRoot, "continuwuity.db"),
			PoolSize: 4,
		},
		Cache: CacheConfig{
			Backend:   CacheMemory,
			KeyPrefix: "continuwuity:",
			TTL:       5 * time.Minute,
		},
		HTTP: HTTPConfig{
			MaxRequestSize:    20 << 20,
			GzipCompression:   true,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Control: ControlConfig{
			SocketPath: filepath.Join(defaultRoot, "control.sock"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the CONTINUWUITY_CONFIG environment
// variable. If the variable is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your continuwuity.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. It does not
// validate: callers decide whether an invalid file is fatal.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile reads one configuration file and merges it into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	digest := blake3.Sum256(data)
	c.Path = path
	c.Digest = hex.EncodeToString(digest[:])

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		overrideString(&c.Server.Name, overrides.Server.Name)
		overrideString(&c.Server.Address, overrides.Server.Address)
		overrideString(&c.Server.WellKnown.Client, overrides.Server.WellKnown.Client)
		overrideString(&c.Server.WellKnown.Server, overrides.Server.WellKnown.Server)
	}

	if overrides.Database != nil {
		overrideString(&c.Database.Path, overrides.Database.Path)
		if overrides.Database.PoolSize != 0 {
			c.Database.PoolSize = overrides.Database.PoolSize
		}
	}

	if overrides.Cache != nil {
		overrideString(&c.Cache.Backend, overrides.Cache.Backend)
		overrideString(&c.Cache.RedisURL, overrides.Cache.RedisURL)
		overrideString(&c.Cache.KeyPrefix, overrides.Cache.KeyPrefix)
		if overrides.Cache.TTL != 0 {
			c.Cache.TTL = overrides.Cache.TTL
		}
	}

	if overrides.HTTP != nil {
		if overrides.HTTP.MaxRequestSize != 0 {
			c.HTTP.MaxRequestSize = overrides.HTTP.MaxRequestSize
		}
		if overrides.HTTP.ReadHeaderTimeout != 0 {
			c.HTTP.ReadHeaderTimeout = overrides.HTTP.ReadHeaderTimeout
		}
		// GzipCompression is a bool, so we always apply it from overrides.
		c.HTTP.GzipCompression = overrides.HTTP.GzipCompression
	}

	if overrides.Logging != nil {
		overrideString(&c.Logging.Level, overrides.Logging.Level)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	root := filepath.Dir(c.Database.Path)
	vars := map[string]string{
		"CONTINUWUITY_ROOT": root,
		"HOME":              os.Getenv("HOME"),
	}

	c.Database.Path = expandVars(c.Database.Path, vars)
	vars["CONTINUWUITY_ROOT"] = filepath.Dir(c.Database.Path)

	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
	c.Registration.TokenFile = expandVars(c.Registration.TokenFile, vars)
	c.Cache.RedisURL = expandVars(c.Cache.RedisURL, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided
// vars win over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for errors. Every problem is
// reported, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Server.Name == "" {
		errs = append(errs, errors.New("server.name is required"))
	} else if strings.ContainsAny(c.Server.Name, "/ @") {
		errs = append(errs, fmt.Errorf("server.name %q is not a valid server name", c.Server.Name))
	}
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		errs = append(errs, fmt.Errorf("server.address: %w", err))
	}
	if client := c.Server.WellKnown.Client; client != "" {
		parsed, err := url.Parse(client)
		if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("server.well_known.client %q must be an absolute http(s) URL", client))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Database.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("database.pool_size must be at least 1, got %d", c.Database.PoolSize))
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be one of: %v", []string{CacheMemory, CacheRedis}))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
	}

	if c.HTTP.MaxRequestSize <= 0 {
		errs = append(errs, fmt.Errorf("http.max_request_size must be positive, got %d", c.HTTP.MaxRequestSize))
	}

	if c.Control.SocketPath == "" {
		errs = append(errs, errors.New("control.socket_path is required"))
	}

	if c.Registration.Token != "" && c.Registration.TokenFile != "" {
		errs = append(errs, errors.New("registration.token and registration.token_file are mutually exclusive"))
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", logLevels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogLevel returns the slog level named by Logging.Level. Unknown
// names map to info; Validate rejects them.
func (c *Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsurePaths creates the directories holding the database and the
// control socket.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Database.Path, c.Control.SocketPath} {
		if path == "" || path == ":memory:" {
			continue
		}
		directory := filepath.Dir(path)
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
