package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	HTTP       HTTPConfig       `yaml:"http"`
	Datastore  DatastoreConfig  `yaml:"datastore"`
	NATS       NATSConfig       `yaml:"nats"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Interfaces InterfacesConfig `yaml:"interfaces"`
	Log        LogConfig        `yaml:"log"`
}

// HTTPConfig holds the HTTP listener settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Datastore backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// DatastoreConfig selects where the running configuration is persisted
type DatastoreConfig struct {
	Backend string       `yaml:"backend"` // memory, sqlite or nats
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig holds sqlite backend settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig holds the NATS connection shared by the KV backend and the
// request/reply surface
type NATSConfig struct {
	URL    string    `yaml:"url"`
	Bucket string    `yaml:"bucket"`
	RPC    RPCConfig `yaml:"rpc"`
}

// RPCConfig enables the NATS request/reply surface
type RPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Commit  string `yaml:"commit_subject,omitempty"`
	Query   string `yaml:"query_subject,omitempty"`
	Resync  string `yaml:"resync_subject,omitempty"`
}

// HardwareConfig points at the simulated hardware inventory
type HardwareConfig struct {
	Inventory string `yaml:"inventory"`
}

// ReconcileConfig tunes the readiness poll
type ReconcileConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	ReadyTimeout Duration `yaml:"ready_timeout"` // 0 waits forever
}

// InterfacesConfig holds interface layer metadata
type InterfacesConfig struct {
	SynceReferenceClocks []ReferenceClockConfig `yaml:"synce_reference_clocks,omitempty"`
}

// ReferenceClockConfig describes where a module reference clock slot is
// wired
type ReferenceClockConfig struct {
	Module         string `yaml:"module"`
	Clock          string `yaml:"clock"`
	InputReference string `yaml:"input_reference"`
	DPLL           string `yaml:"dpll"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
