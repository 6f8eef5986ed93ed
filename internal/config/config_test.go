package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/backend/etcd"
)

const full = `
record:
  - {name: primary, type: sqlite, path: /tmp/records.db}
  - {name: cluster, type: etcd, endpoints: ["127.0.0.1:2379"], namespace: soc, dial_timeout: 2s}
cache:
  - {name: cluster}
  - {name: memory}
search:
  - {name: text, type: fts, path: /tmp/search.db}
  - {name: cluster}
kind_ttls:
  incident: 600
  playbook: 0
collections:
  - kind: alert
    name: active_alerts
    ttl: 120
    where: {status: active}
fanout:
  timeout: 250ms
health:
  interval: 10s
  threshold: 5
`

func TestParse_Full(t *testing.T) {
	cfg, err := Parse("full.yaml", []byte(full))
	require.NoError(t, err)

	require.Len(t, cfg.Record, 2)
	assert.Equal(t, BackendSpec{Name: "primary", Type: TypeSQLite, Path: "/tmp/records.db"}, cfg.Record[0])
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.Record[1].Endpoints)
	assert.Equal(t, 2*time.Second, cfg.Record[1].DialTimeout.Std())
	assert.Equal(t, []BackendSpec{{Name: "cluster"}, {Name: "memory"}}, cfg.Cache)
	assert.Equal(t, map[string]int{"incident": 600, "playbook": 0}, cfg.KindTTLs)
	assert.Equal(t, []CollectionSpec{{Kind: "alert", Name: "active_alerts", TTL: 120, Where: map[string]string{"status": "active"}}}, cfg.Collections)
	assert.Equal(t, 250*time.Millisecond, cfg.Fanout.Timeout.Std())
	assert.False(t, cfg.Fanout.Disabled)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval.Std())
	assert.Equal(t, 5, cfg.Health.Threshold)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse("empty.yaml", []byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown top-level field", "replicas: 3\n", "replicas"},
		{"unknown backend field", "record:\n  - {name: a, type: sqlite, path: x, pool: 4}\n", "pool"},
		{"unknown type", "record:\n  - {name: a, type: redis}\n", "type"},
		{"bad backend name", "record:\n  - {name: \"a b\", type: sqlite, path: x}\n", "name"},
		{"bad duration", "fanout: {timeout: soon}\n", "timeout"},
		{"negative ttl", "kind_ttls: {incident: -1}\n", "incident"},
		{"reserved kind character", "kind_ttls: {\"in:cident\": 5}\n", "kind_ttls"},
		{"zero threshold", "health: {threshold: 0}\n", "threshold"},
		{"empty endpoints", "cache:\n  - {name: c, type: etcd, endpoints: []}\n", "endpoints"},
		{"collection without kind", "collections:\n  - {name: x}\n", "kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.yaml", []byte(tt.yaml))
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_ReferenceErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"undeclared reference",
			"cache:\n  - {name: ghost}\n",
			`backend "ghost" is not declared`,
		},
		{
			"sqlite cannot cache",
			"record:\n  - {name: db, type: sqlite, path: x}\ncache:\n  - {name: db}\n",
			"cannot serve the cache role",
		},
		{
			"fts cannot store records",
			"record:\n  - {name: idx, type: fts, path: x}\n",
			"cannot serve the record role",
		},
		{
			"sqlite requires path",
			"record:\n  - {name: db, type: sqlite}\n",
			"requires path",
		},
		{
			"etcd requires endpoints",
			"record:\n  - {name: kv, type: etcd}\n",
			"requires endpoints",
		},
		{
			"etcd takes no path",
			"record:\n  - {name: kv, type: etcd, endpoints: [a], path: x}\n",
			"does not take path",
		},
		{
			"memory must keep its name",
			"record:\n  - {name: ram, type: memory}\n",
			"must be named",
		},
		{
			"memory name reserved",
			"record:\n  - {name: memory, type: sqlite, path: x}\n",
			"reserved",
		},
		{
			"declared twice",
			"record:\n  - {name: kv, type: etcd, endpoints: [a]}\ncache:\n  - {name: kv, type: etcd, endpoints: [a]}\n",
			"declared twice",
		},
		{
			"listed twice",
			"record:\n  - {name: db, type: sqlite, path: x}\n  - {name: db}\n",
			"listed twice",
		},
		{
			"reference with settings",
			"record:\n  - {name: kv, type: etcd, endpoints: [a]}\ncache:\n  - {name: kv, namespace: other}\n",
			"has settings but no type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("refs.yaml", []byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hybridstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fanout: {disabled: true}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Fanout.Disabled)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuilder_LocalBackends(t *testing.T) {
	dir := t.TempDir()
	yaml := `
record:
  - {name: primary, type: sqlite, path: ` + filepath.Join(dir, "records.db") + `}
search:
  - {name: text, type: fts, path: ` + filepath.Join(dir, "search.db") + `}
kind_ttls: {incident: 60}
collections:
  - {kind: alert, name: open, where: {status: open}}
`
	cfg, err := Parse("local.yaml", []byte(yaml))
	require.NoError(t, err)

	b, err := cfg.Builder()
	require.NoError(t, err)

	ctx := context.Background()
	c, err := b.Build(ctx)
	require.NoError(t, err)
	defer c.Close(ctx)

	for role, want := range map[backend.Role]string{
		backend.RoleRecord: "primary",
		backend.RoleCache:  "memory",
		backend.RoleSearch: "text",
	} {
		got, err := c.Route(role)
		require.NoError(t, err)
		assert.Equal(t, want, got, role)
	}
	assert.Equal(t, []string{"primary", "text", "memory"}, c.Backends())
	assert.Equal(t, 60*time.Second, c.TTL("incident"))
	assert.Equal(t, 1800*time.Second, c.TTL("alert"), "defaults survive")

	_, err = c.Collection(ctx, "alert", "open")
	assert.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "records.db"))
}

func TestBuilder_MemoryOnly(t *testing.T) {
	b, err := Default().Builder()
	require.NoError(t, err)

	c, err := b.Build(context.Background())
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.Equal(t, []string{"memory"}, c.Backends())
}

func TestBuilder_EtcdRoles(t *testing.T) {
	cfg, err := Parse("etcd.yaml", []byte(full))
	require.NoError(t, err)

	decls, err := cfg.resolve()
	require.NoError(t, err)
	require.Len(t, decls, 3)

	cluster := decls[1]
	assert.Equal(t, []backend.Role{backend.RoleRecord, backend.RoleCache, backend.RoleSearch}, cluster.roles)

	be, ok := cluster.open().(*etcd.Backend)
	require.True(t, ok)
	assert.Equal(t, backend.ClassDocument, be.Class())
	assert.Equal(t, backend.CapAll, be.Capabilities())

	cacheOnly := &declaration{
		spec:  BackendSpec{Name: "kv", Type: TypeEtcd, Endpoints: []string{"a"}},
		roles: []backend.Role{backend.RoleCache},
	}
	be = cacheOnly.open().(*etcd.Backend)
	assert.Equal(t, backend.ClassKV, be.Class())
	assert.Equal(t, backend.CapCache, be.Capabilities())
}
