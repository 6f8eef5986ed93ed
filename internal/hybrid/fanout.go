package hybrid

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// Breaker policy for fanout side effects.
const (
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// effect is one best-effort side effect against a role.
type effect struct {
	role backend.Role
	run  func(ctx context.Context, m *member) error
}

// fanoutWrite runs the side effects of a successful create or update:
// index upsert, cache populate and collection invalidation.
func (c *Coordinator) fanoutWrite(ctx context.Context, kind, id, payload string) {
	ttl := c.ttls[kind]
	effects := []effect{
		{backend.RoleSearch, func(ctx context.Context, m *member) error {
			return m.Backend.(backend.SearchIndex).Index(ctx, kind, id, payload)
		}},
		{backend.RoleCache, func(ctx context.Context, m *member) error {
			return m.Backend.(backend.Cache).Set(ctx, record.Key(kind, id), payload, ttl)
		}},
	}
	if len(c.collections[kind]) > 0 {
		effects = append(effects, effect{backend.RoleCache, c.invalidateCollections(kind)})
	}
	c.fanout(ctx, kind, id, effects)
}

// fanoutDelete runs the side effects of a successful delete: cache and
// collection invalidation plus index removal.
func (c *Coordinator) fanoutDelete(ctx context.Context, kind, id string) {
	effects := []effect{
		{backend.RoleSearch, func(ctx context.Context, m *member) error {
			return m.Backend.(backend.SearchIndex).DeleteIndex(ctx, kind, id)
		}},
		{backend.RoleCache, func(ctx context.Context, m *member) error {
			return m.Backend.(backend.Cache).Delete(ctx, record.Key(kind, id))
		}},
	}
	if len(c.collections[kind]) > 0 {
		effects = append(effects, effect{backend.RoleCache, c.invalidateCollections(kind)})
	}
	c.fanout(ctx, kind, id, effects)
}

func (c *Coordinator) invalidateCollections(kind string) func(context.Context, *member) error {
	return func(ctx context.Context, m *member) error {
		cache := m.Backend.(backend.Cache)
		mu := c.collectionLocks[kind]
		mu.Lock()
		defer mu.Unlock()

		var errs []error
		for _, col := range c.collections[kind] {
			if err := cache.Delete(ctx, record.CollectionKey(kind, col.Name)); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// fanout runs effects concurrently and waits for all of them. Each effect is
// attempted once. Failures are logged and counted, never returned.
//
// The round runs on a context detached from the caller: once the record
// write has committed, cancelling the caller must not leave cache or index
// half updated.
func (c *Coordinator) fanout(ctx context.Context, kind, id string, effects []effect) {
	if c.fanoutDisabled {
		return
	}

	if ctx.Err() != nil {
		c.log.Warn("fanout continuing after caller cancellation", "kind", kind, "id", id, "error", ctx.Err())
	}
	fctx := context.WithoutCancel(ctx)
	if c.fanoutTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(fctx, c.fanoutTimeout)
		defer cancel()
	}

	var g errgroup.Group
	for _, e := range effects {
		g.Go(func() error {
			c.apply(fctx, kind, id, e)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) apply(ctx context.Context, kind, id string, e effect) {
	m, err := c.route(e.role)
	name := ""
	if err == nil {
		name = m.Name()
		err = c.breakers.get(name, e.role).run(func() error {
			return e.run(ctx, m)
		})
	}
	if err == nil {
		return
	}

	c.log.Warn("fanout failed",
		"role", e.role,
		"backend", name,
		"kind", kind,
		"id", id,
		"error", err,
	)
	c.metrics.fanoutFailed(ctx, e.role, name)
}

// breakerSet holds one circuit breaker per (backend, role).
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*breaker
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*breaker)}
}

func (s *breakerSet) get(name string, role backend.Role) *breaker {
	key := name + "/" + string(role)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[key]
	if !ok {
		b = &breaker{cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    key,
			Timeout: breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
		})}
		s.breakers[key] = b
	}
	return b
}

// state reports the breaker state for (name, role), for tests and operators.
func (s *breakerSet) state(name string, role backend.Role) gobreaker.State {
	return s.get(name, role).cb.State()
}

type breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// run executes fn through the breaker. While open, fn is skipped and
// gobreaker.ErrOpenState is returned.
func (b *breaker) run(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
