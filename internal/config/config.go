// Package config provides configuration management for gearboxd.
//
// Config file locations (priority order):
//  1. $GEARBOXD_CONFIG
//  2. ./gearboxd.yaml
//  3. ~/.config/gearboxd/config.yaml
//  4. /etc/gearboxd/config.yaml
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	return &Config{
		Version:   1,
		HTTP:      HTTPConfig{Addr: ":8080"},
		Datastore: DatastoreConfig{Backend: BackendMemory, SQLite: SQLiteConfig{Path: "./gearboxd.db"}},
		NATS:      NATSConfig{URL: "nats://127.0.0.1:4222", Bucket: "gearbox-running"},
		Hardware:  HardwareConfig{Inventory: "./inventory.yaml"},
		Reconcile: ReconcileConfig{PollInterval: Duration(time.Second)},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Version == 0 {
		c.Version = def.Version
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.Datastore.Backend == "" {
		c.Datastore.Backend = def.Datastore.Backend
	}
	if c.Datastore.SQLite.Path == "" {
		c.Datastore.SQLite.Path = def.Datastore.SQLite.Path
	}
	if c.NATS.URL == "" {
		c.NATS.URL = def.NATS.URL
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = def.NATS.Bucket
	}
	if c.Hardware.Inventory == "" {
		c.Hardware.Inventory = def.Hardware.Inventory
	}
	// ReadyTimeout stays zero: readiness is awaited without a ceiling
	if c.Reconcile.PollInterval == 0 {
		c.Reconcile.PollInterval = def.Reconcile.PollInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate rejects settings the process cannot start with
func (c *Config) Validate() error {
	switch c.Datastore.Backend {
	case BackendMemory, BackendSQLite, BackendNATS:
	default:
		return fmt.Errorf("datastore.backend %q: want memory, sqlite or nats", c.Datastore.Backend)
	}
	if c.Reconcile.PollInterval < 0 || c.Reconcile.ReadyTimeout < 0 {
		return fmt.Errorf("reconcile intervals must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	for i, rc := range c.Interfaces.SynceReferenceClocks {
		if rc.Module == "" || rc.Clock == "" {
			return fmt.Errorf("interfaces.synce_reference_clocks[%d]: module and clock are required", i)
		}
	}
	return nil
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}

// NeedsNATS reports whether any component connects to NATS
func (c *Config) NeedsNATS() bool {
	return c.Datastore.Backend == BackendNATS || c.NATS.RPC.Enabled
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("HTTP: %s, Datastore: %s\n", c.HTTP.Addr, c.Datastore.Backend)
	summary += fmt.Sprintf("Poll: %s, Ready timeout: %s\n",
		c.Reconcile.PollInterval.Duration(), c.Reconcile.ReadyTimeout.Duration())
	summary += fmt.Sprintf("Reference clocks (%d), NATS RPC: %v",
		len(c.Interfaces.SynceReferenceClocks), c.NATS.RPC.Enabled)
	return summary
}
