// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package config loads layered configuration with Koanf v2:
// built-in defaults, then an optional YAML file, then environment
// variables (highest priority). Config is immutable after Load and safe
// for concurrent reads.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit
// wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/calyx/config.yaml",
	"/etc/calyx/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces environment overrides: CALYX_SERVER_PORT sets
// server.port.
const envPrefix = "CALYX_"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Auth      AuthConfig      `koanf:"auth"`
	Bus       BusConfig       `koanf:"bus"`
	Counters  CountersConfig  `koanf:"counters"`
	Mongo     MongoConfig     `koanf:"mongo"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// AuthConfig holds websocket handshake authentication settings. Token
// issuance is external; Calyx only verifies.
type AuthConfig struct {
	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`
}

// BusConfig selects and tunes the event transport.
type BusConfig struct {
	// Transport is "channel" for the in-process Go channel transport or
	// "nats" for NATS JetStream.
	Transport string `koanf:"transport"`
	Buffer    int    `koanf:"buffer"`

	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	StoreDir string `koanf:"store_dir"`
}

// CountersConfig selects the unread counter store.
type CountersConfig struct {
	// Mode is one of memory, redis, badger, aggregate.
	Mode string `koanf:"mode"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	BadgerPath string `koanf:"badger_path"`
}

// MongoConfig holds the persistence settings. Disabled falls back to
// the in-memory stores, which do not survive restarts.
type MongoConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

// ReconcileConfig tunes the counter reconciler.
type ReconcileConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Auth: AuthConfig{
			JWTSecret:      "",
			SessionTimeout: 24 * time.Hour,
		},
		Bus: BusConfig{
			Transport: "channel",
			Buffer:    256,
			URL:       "nats://127.0.0.1:4222",
			Embedded:  false,
			StoreDir:  "/data/nats/jetstream",
		},
		Counters: CountersConfig{
			Mode:       "memory",
			RedisAddr:  "127.0.0.1:6379",
			RedisDB:    0,
			BadgerPath: "/data/counters",
		},
		Mongo: MongoConfig{
			Enabled:  false,
			URI:      "mongodb://127.0.0.1:27017",
			Database: "calyx",
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and CALYX_-prefixed environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, honoring the
// CONFIG_PATH override.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps CALYX_SERVER_PORT to server.port. Only the first
// underscore becomes a section separator; the rest stay literal so
// multi-word keys like redis_addr survive.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Bus.Transport {
	case "channel", "nats":
	default:
		return fmt.Errorf("bus.transport %q must be channel or nats", c.Bus.Transport)
	}

	switch c.Counters.Mode {
	case "memory", "redis", "badger", "aggregate":
	default:
		return fmt.Errorf("counters.mode %q must be memory, redis, badger, or aggregate", c.Counters.Mode)
	}
	if c.Counters.Mode == "redis" && c.Counters.RedisAddr == "" {
		return fmt.Errorf("counters.redis_addr required for redis mode")
	}
	if c.Counters.Mode == "badger" && c.Counters.BadgerPath == "" {
		return fmt.Errorf("counters.badger_path required for badger mode")
	}

	if c.Mongo.Enabled && c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri required when mongo is enabled")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Reconcile.Enabled && c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive")
	}
	return nil
}

// Addr returns the host:port the server binds.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
