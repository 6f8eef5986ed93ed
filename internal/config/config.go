// Package config loads hybridstore YAML configuration, validates it against
// an embedded CUE schema and turns it into a hybrid.Builder.
//
// Each role section lists backends in preference order. A descriptor with a
// type declares a backend; a descriptor carrying only a name refers to a
// backend declared in another section, so one etcd cluster can serve several
// roles:
//
//	record:
//	  - {name: primary, type: sqlite, path: /var/lib/hybridstore/records.db}
//	  - {name: cluster, type: etcd, endpoints: ["127.0.0.1:2379"]}
//	cache:
//	  - {name: cluster}
//	search:
//	  - {name: text, type: fts, path: /var/lib/hybridstore/search.db}
//	kind_ttls: {incident: 3600, alert: 1800}
//	health: {interval: 10s, threshold: 3}
//
// The memory fallback always serves last; listing it is allowed but does not
// change its position.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend types.
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
	TypeEtcd   = "etcd"
	TypeFTS    = "fts"
)

// Config is a decoded configuration file.
type Config struct {
	Record      []BackendSpec    `yaml:"record"`
	Cache       []BackendSpec    `yaml:"cache"`
	Search      []BackendSpec    `yaml:"search"`
	KindTTLs    map[string]int   `yaml:"kind_ttls"`
	Collections []CollectionSpec `yaml:"collections"`
	Fanout      FanoutSpec       `yaml:"fanout"`
	Health      HealthSpec       `yaml:"health"`
}

// BackendSpec declares or references one backend.
type BackendSpec struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Path        string   `yaml:"path"`
	Endpoints   []string `yaml:"endpoints"`
	Namespace   string   `yaml:"namespace"`
	DialTimeout Duration `yaml:"dial_timeout"`
}

// CollectionSpec registers a materialized collection.
type CollectionSpec struct {
	Kind  string            `yaml:"kind"`
	Name  string            `yaml:"name"`
	TTL   int               `yaml:"ttl"`
	Where map[string]string `yaml:"where"`
}

// FanoutSpec controls best-effort side effects.
type FanoutSpec struct {
	Disabled bool     `yaml:"disabled"`
	Timeout  Duration `yaml:"timeout"`
}

// HealthSpec controls the periodic health monitor. A zero interval disables
// the monitor.
type HealthSpec struct {
	Interval  Duration `yaml:"interval"`
	Threshold int      `yaml:"threshold"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the memory-only configuration.
func Default() *Config {
	return &Config{}
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the schema, decodes it and checks backend
// references. filename is used in error positions only.
func Parse(filename string, data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Default(), nil
	}
	if err := validateSchema(filename, data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	if _, err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}
