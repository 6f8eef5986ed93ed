package config

import (
	"slices"
	"time"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/backend/etcd"
	"github.com/roach88/hybridstore/internal/backend/fts"
	"github.com/roach88/hybridstore/internal/backend/memory"
	"github.com/roach88/hybridstore/internal/backend/sqlite"
	"github.com/roach88/hybridstore/internal/hybrid"
)

// Builder returns a hybrid.Builder with every declared backend, the role
// preference order of each section, kind TTLs and collections. opts are
// applied after the options derived from the file.
func (c *Config) Builder(opts ...hybrid.Option) (*hybrid.Builder, error) {
	decls, err := c.resolve()
	if err != nil {
		return nil, err
	}

	var base []hybrid.Option
	if c.Fanout.Disabled {
		base = append(base, hybrid.WithFanoutDisabled())
	}
	if c.Fanout.Timeout > 0 {
		base = append(base, hybrid.WithFanoutTimeout(c.Fanout.Timeout.Std()))
	}
	if c.Health.Threshold > 0 {
		base = append(base, hybrid.WithHealthThreshold(c.Health.Threshold))
	}
	if c.Health.Interval > 0 {
		base = append(base, hybrid.WithHealthInterval(c.Health.Interval.Std()))
	}
	b := hybrid.NewBuilder(append(base, opts...)...)

	for _, d := range decls {
		b.WithBackend(d.open(), d.roles...)
	}

	for _, sec := range c.sections() {
		if names := sec.preferred(); len(names) > 0 {
			b.WithPreferences(sec.role, names...)
		}
	}

	for kind, secs := range c.KindTTLs {
		b.WithKindCacheTTL(kind, time.Duration(secs)*time.Second)
	}
	for _, col := range c.Collections {
		b.WithCollection(col.Kind, col.Name, backend.Filter{Where: col.Where}, time.Duration(col.TTL)*time.Second)
	}
	return b, nil
}

// Preferences returns each role's backend names in the order they are
// tried, memory last.
func (c *Config) Preferences() map[backend.Role][]string {
	out := make(map[backend.Role][]string, len(backend.Roles))
	for _, sec := range c.sections() {
		out[sec.role] = append(sec.preferred(), memory.DefaultName)
	}
	return out
}

// preferred lists the section's names in file order without memory.
func (s section) preferred() []string {
	var names []string
	for _, spec := range s.specs {
		if spec.Name != memory.DefaultName {
			names = append(names, spec.Name)
		}
	}
	return names
}

func (d *declaration) open() backend.Backend {
	s := d.spec
	switch s.Type {
	case TypeSQLite:
		return sqlite.New(s.Name, s.Path)
	case TypeFTS:
		return fts.New(s.Name, s.Path)
	}

	opts := []etcd.Option{
		etcd.WithCapabilities(capabilities(d.roles)),
		etcd.WithClass(etcdClass(d.roles)),
	}
	if s.Namespace != "" {
		opts = append(opts, etcd.WithNamespace(s.Namespace))
	}
	if s.DialTimeout > 0 {
		opts = append(opts, etcd.WithDialTimeout(s.DialTimeout.Std()))
	}
	return etcd.New(s.Name, s.Endpoints, opts...)
}

func capabilities(roles []backend.Role) backend.Capabilities {
	var caps backend.Capabilities
	for _, r := range roles {
		switch r {
		case backend.RoleRecord:
			caps |= backend.CapRecord
		case backend.RoleCache:
			caps |= backend.CapCache
		case backend.RoleSearch:
			caps |= backend.CapSearch
		}
	}
	return caps
}

// etcdClass ranks an etcd cluster used only for caching as a kv store and
// as a document store otherwise.
func etcdClass(roles []backend.Role) backend.Class {
	if slices.Equal(roles, []backend.Role{backend.RoleCache}) {
		return backend.ClassKV
	}
	return backend.ClassDocument
}
