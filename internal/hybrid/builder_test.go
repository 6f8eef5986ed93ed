package hybrid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/backend/memory"
)

func routeNames(c *Coordinator, role backend.Role) []string {
	var names []string
	for _, m := range c.routes[role] {
		names = append(names, m.Name())
	}
	return names
}

func TestBuild_MemoryOnly(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, "hybrid", h.c.Type())
	assert.Equal(t, []string{"memory"}, h.c.Backends())
	for _, role := range backend.Roles {
		name, err := h.c.Route(role)
		require.NoError(t, err)
		assert.Equal(t, "memory", name)
	}
	assert.Equal(t, backend.StatusHealthy, h.c.Statuses()["memory"])
}

func TestBuild_DefaultTTLs(t *testing.T) {
	h := newHarness(t, func(b *Builder) {
		b.WithKindCacheTTL("evidence", 10*time.Minute)
	})

	assert.Equal(t, 3600*time.Second, h.c.TTL("incident"))
	assert.Equal(t, 1800*time.Second, h.c.TTL("alert"))
	assert.Equal(t, 10*time.Minute, h.c.TTL("evidence"))
	assert.Zero(t, h.c.TTL("playbook"), "unlisted kinds never expire")
}

func TestRouter_ClassPrecedence(t *testing.T) {
	docs := newStub("docs", backend.ClassDocument, backend.CapAll)
	rel := newStub("rel", backend.ClassRelational, backend.CapRecord)
	kv := newStub("kv", backend.ClassKV, backend.CapCache)
	idx := newStub("idx", backend.ClassSearchIndex, backend.CapSearch)

	h := newHarness(t, func(b *Builder) {
		// Declared in the "wrong" order on purpose.
		b.WithBackend(docs).
			WithRecordBackend(rel).
			WithCacheBackend(kv).
			WithSearchBackend(idx)
	})

	assert.Equal(t, []string{"rel", "docs", "memory"}, routeNames(h.c, backend.RoleRecord))
	assert.Equal(t, []string{"kv", "docs", "memory"}, routeNames(h.c, backend.RoleCache), "unranked classes follow ranked ones")
	assert.Equal(t, []string{"idx", "docs", "memory"}, routeNames(h.c, backend.RoleSearch))
	assert.Equal(t, []string{"docs", "rel", "kv", "idx", "memory"}, h.c.Backends())
}

func TestRouter_TiesKeepDeclarationOrder(t *testing.T) {
	a := newStub("a", backend.ClassRelational, backend.CapRecord)
	b2 := newStub("b", backend.ClassRelational, backend.CapRecord)
	c := newStub("c", backend.ClassRelational, backend.CapRecord)

	h := newHarness(t, func(b *Builder) {
		b.WithRecordBackend(b2).WithRecordBackend(a).WithRecordBackend(c)
	})

	assert.Equal(t, []string{"b", "a", "c", "memory"}, routeNames(h.c, backend.RoleRecord))
}

func TestRouter_ExplicitPreferences(t *testing.T) {
	rel := newStub("rel", backend.ClassRelational, backend.CapRecord)
	docs := newStub("docs", backend.ClassDocument, backend.CapAll)

	h := newHarness(t, func(b *Builder) {
		b.WithRecordBackend(rel).
			WithBackend(docs).
			WithPreferences(backend.RoleRecord, "docs", "rel")
	})

	assert.Equal(t, []string{"docs", "rel", "memory"}, routeNames(h.c, backend.RoleRecord))
}

func TestRouter_SkipsUnhealthyPerCall(t *testing.T) {
	rel := newStub("rel", backend.ClassRelational, backend.CapRecord)
	h := newHarness(t, func(b *Builder) { b.WithRecordBackend(rel) })

	name, err := h.c.Route(backend.RoleRecord)
	require.NoError(t, err)
	assert.Equal(t, "rel", name)

	h.c.members["rel"].setStatus(backend.StatusUnhealthy)
	name, err = h.c.Route(backend.RoleRecord)
	require.NoError(t, err)
	assert.Equal(t, "memory", name)

	h.c.members["rel"].setStatus(backend.StatusHealthy)
	name, err = h.c.Route(backend.RoleRecord)
	require.NoError(t, err)
	assert.Equal(t, "rel", name)
}

func TestRouter_NoUsableBackend(t *testing.T) {
	h := newHarness(t, nil)
	h.c.fallback.setStatus(backend.StatusUnhealthy)

	_, err := h.c.Route(backend.RoleCache)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestBuild_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Builder)
		contains  string
	}{
		{
			name: "undeclared preference",
			configure: func(b *Builder) {
				b.WithPreferences(backend.RoleRecord, "ghost")
			},
			contains: `undeclared backend "ghost"`,
		},
		{
			name: "preference for role the backend cannot serve",
			configure: func(b *Builder) {
				b.WithCacheBackend(newStub("kv", backend.ClassKV, backend.CapCache)).
					WithPreferences(backend.RoleRecord, "kv")
			},
			contains: `does not declare the record capability`,
		},
		{
			name: "declared role without capability",
			configure: func(b *Builder) {
				b.WithSearchBackend(newStub("rel", backend.ClassRelational, backend.CapRecord))
			},
			contains: `does not declare the search capability`,
		},
		{
			name: "capability without implementation",
			configure: func(b *Builder) {
				b.WithSearchBackend(livenessOnly{name: "hollow", caps: backend.CapSearch})
			},
			contains: `declares search but does not implement it`,
		},
		{
			name: "same name twice",
			configure: func(b *Builder) {
				b.WithRecordBackend(newStub("dup", backend.ClassRelational, backend.CapRecord)).
					WithRecordBackend(newStub("dup", backend.ClassRelational, backend.CapRecord))
			},
			contains: `declared twice`,
		},
		{
			name: "fallback name reserved",
			configure: func(b *Builder) {
				b.WithRecordBackend(newStub("memory", backend.ClassRelational, backend.CapRecord))
			},
			contains: `reserved for the memory fallback`,
		},
		{
			name: "bad kind ttl",
			configure: func(b *Builder) {
				b.WithKindCacheTTL("in:cident", time.Second)
			},
			contains: `reserved character`,
		},
		{
			name: "duplicate collection",
			configure: func(b *Builder) {
				b.WithCollection("alert", "active", backend.Filter{}, 0).
					WithCollection("alert", "active", backend.Filter{}, 0)
			},
			contains: `alert#active registered twice`,
		},
		{
			name: "nil backend",
			configure: func(b *Builder) {
				b.WithRecordBackend(nil)
			},
			contains: `nil backend`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.configure(b)
			c, err := b.Build(context.Background())
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, backend.ErrInvalid)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestBuild_SameInstanceMultipleRoles(t *testing.T) {
	docs := newStub("docs", backend.ClassDocument, backend.CapAll)

	h := newHarness(t, func(b *Builder) {
		b.WithRecordBackend(docs).WithSearchBackend(docs)
	})

	assert.Equal(t, []string{"docs", "memory"}, h.c.Backends())
	assert.Equal(t, []string{"docs", "memory"}, routeNames(h.c, backend.RoleRecord))
	assert.Equal(t, []string{"memory"}, routeNames(h.c, backend.RoleCache), "cache role was not declared")
	assert.Equal(t, int32(1), docs.initCalls.Load())
}

func TestBuild_FallbackMayBeDeclared(t *testing.T) {
	mem := memory.New()
	c, err := NewBuilder(WithMemory(mem)).WithRecordBackend(mem).Build(context.Background())
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.Equal(t, []string{"memory"}, c.Backends())
	assert.Equal(t, []string{"memory"}, routeNames(c, backend.RoleRecord))
}

func TestBuild_FallbackInitFailure(t *testing.T) {
	mem := memory.New()
	mem.Poison(true)

	_, err := NewBuilder(WithMemory(mem)).Build(context.Background())
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
