package hybrid

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// Identifier is the storage type reported for a configured coordinator.
const Identifier = "hybrid"

const stripeCount = 64

// Coordinator routes record, cache and search traffic across backends.
// Create one with NewBuilder(...).Build(ctx).
type Coordinator struct {
	log     *slog.Logger
	metrics *instruments
	ids     IDGenerator

	members  map[string]*member
	order    []*member // declaration order, fallback last
	fallback *member
	routes   map[backend.Role][]*member

	ttls        map[string]time.Duration
	collections map[string][]Collection // by kind

	// collectionLocks serialize a collection's list and back-fill against
	// the invalidation that follows each write to the kind.
	collectionLocks map[string]*sync.Mutex

	fanoutDisabled bool
	fanoutTimeout  time.Duration
	breakers       *breakerSet

	threshold int
	monitor   monitorState

	stripes [stripeCount]sync.Mutex
	fatal   atomic.Pointer[backend.Error]
	closed  atomic.Bool
}

func newCoordinator(opts options, metrics *instruments) *Coordinator {
	return &Coordinator{
		log:             opts.logger,
		metrics:         metrics,
		ids:             opts.ids,
		members:         make(map[string]*member),
		routes:          make(map[backend.Role][]*member),
		ttls:            make(map[string]time.Duration),
		collections:     make(map[string][]Collection),
		collectionLocks: make(map[string]*sync.Mutex),
		fanoutDisabled:  opts.fanoutDisabled,
		fanoutTimeout:   opts.fanoutTimeout,
		breakers:        newBreakerSet(),
		threshold:       opts.healthThreshold,
	}
}

// addMember registers be once; repeated registration returns the same member.
func (c *Coordinator) addMember(be backend.Backend) *member {
	if m, ok := c.members[be.Name()]; ok {
		return m
	}
	m := &member{Backend: be}
	m.status.Store(int32(backend.StatusUninitialized))
	c.members[be.Name()] = m
	c.order = append(c.order, m)
	return m
}

// Type returns Identifier.
func (c *Coordinator) Type() string {
	return Identifier
}

// TTL returns the single-record cache TTL for kind. Zero means no expiry.
func (c *Coordinator) TTL(kind string) time.Duration {
	return c.ttls[kind]
}

// lock serializes writers of one cache key. Keys hash onto a fixed set of
// mutexes, so unrelated keys occasionally share one.
func (c *Coordinator) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &c.stripes[h.Sum32()%stripeCount]
	mu.Lock()
	return mu.Unlock
}

func (c *Coordinator) checkOpen(op string) error {
	if c.closed.Load() {
		return &backend.Error{Code: backend.CodeUnavailable, Op: op, Err: fmt.Errorf("coordinator closed")}
	}
	return nil
}

func (c *Coordinator) checkWritable(op string) error {
	if err := c.checkOpen(op); err != nil {
		return err
	}
	if f := c.fatal.Load(); f != nil {
		return f
	}
	return nil
}

// trip records a coordinator invariant violation. Writes fail from now on.
func (c *Coordinator) trip(err *backend.Error) error {
	c.fatal.CompareAndSwap(nil, err)
	c.log.Error("coordinator entered fatal mode", "backend", err.Backend, "kind", err.Kind, "id", err.ID, "error", err.Err)
	return err
}

func validateKey(op, kind, id string) error {
	if err := record.ValidateName("kind", kind); err != nil {
		return &backend.Error{Code: backend.CodeInvalid, Op: op, Kind: kind, ID: id, Err: err}
	}
	if err := record.ValidateName("id", id); err != nil {
		return &backend.Error{Code: backend.CodeInvalid, Op: op, Kind: kind, ID: id, Err: err}
	}
	return nil
}

// Create stores a new record and returns its id. An empty id is replaced by
// a generated one. The record store is written first; fanout follows and
// never affects the result.
func (c *Coordinator) Create(ctx context.Context, rec record.Record) (string, error) {
	if err := c.checkWritable("create"); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = c.ids.Generate()
	}
	if err := validateKey("create", rec.Kind, rec.ID); err != nil {
		return "", err
	}
	text, err := rec.Encode()
	if err != nil {
		return "", &backend.Error{Code: backend.CodeSerialization, Op: "create", Kind: rec.Kind, ID: rec.ID, Err: err}
	}

	unlock := c.lock(rec.Key())
	defer unlock()

	var id, name string
	err = c.withRecordStore(ctx, func(store backend.RecordStore, n string) error {
		var err error
		id, err = store.CreateRecord(ctx, rec)
		name = n
		return err
	})
	if err != nil {
		return "", err
	}
	if id != rec.ID {
		return "", c.trip(&backend.Error{
			Code: backend.CodeFatal, Op: "create", Backend: name, Kind: rec.Kind, ID: rec.ID,
			Err: fmt.Errorf("record store acknowledged id %q", id),
		})
	}

	c.fanoutWrite(ctx, rec.Kind, rec.ID, text)
	return id, nil
}

// Update replaces an existing record. Returns ErrNotFound if absent.
func (c *Coordinator) Update(ctx context.Context, rec record.Record) error {
	if err := c.checkWritable("update"); err != nil {
		return err
	}
	if err := validateKey("update", rec.Kind, rec.ID); err != nil {
		return err
	}
	text, err := rec.Encode()
	if err != nil {
		return &backend.Error{Code: backend.CodeSerialization, Op: "update", Kind: rec.Kind, ID: rec.ID, Err: err}
	}

	unlock := c.lock(rec.Key())
	defer unlock()

	err = c.withRecordStore(ctx, func(store backend.RecordStore, _ string) error {
		return store.UpdateRecord(ctx, rec)
	})
	if err != nil {
		return err
	}

	c.fanoutWrite(ctx, rec.Kind, rec.ID, text)
	return nil
}

// Delete removes a record and invalidates its cache and index entries.
// Deleting an absent record succeeds.
func (c *Coordinator) Delete(ctx context.Context, kind, id string) error {
	if err := c.checkWritable("delete"); err != nil {
		return err
	}
	if err := validateKey("delete", kind, id); err != nil {
		return err
	}

	unlock := c.lock(record.Key(kind, id))
	defer unlock()

	err := c.withRecordStore(ctx, func(store backend.RecordStore, _ string) error {
		return store.DeleteRecord(ctx, kind, id)
	})
	if err != nil {
		return err
	}

	c.fanoutDelete(ctx, kind, id)
	return nil
}

// List returns records of kind matching f straight from the record store.
// Filtered lists are never cached.
func (c *Coordinator) List(ctx context.Context, kind string, f backend.Filter) ([]record.Record, error) {
	if err := c.checkOpen("list"); err != nil {
		return nil, err
	}
	if err := record.ValidateName("kind", kind); err != nil {
		return nil, &backend.Error{Code: backend.CodeInvalid, Op: "list", Kind: kind, Err: err}
	}

	var recs []record.Record
	err := c.withRecordStore(ctx, func(store backend.RecordStore, _ string) error {
		var err error
		recs, err = store.ListRecords(ctx, kind, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Search answers criteria from the search role. If the search backend
// fails, it degrades to the record store's own search and logs it.
func (c *Coordinator) Search(ctx context.Context, kind string, crit backend.Criteria) ([]record.Record, error) {
	if err := c.checkOpen("search"); err != nil {
		return nil, err
	}
	if err := record.ValidateName("kind", kind); err != nil {
		return nil, &backend.Error{Code: backend.CodeInvalid, Op: "search", Kind: kind, Err: err}
	}

	idx, name, err := c.searchIndex()
	if err == nil {
		var hits []backend.Hit
		if hits, err = idx.Query(ctx, kind, crit.Text); err == nil {
			return c.hitsToRecords(kind, name, hits, crit), nil
		}
	}

	c.log.Warn("search degraded", "kind", kind, "backend", name, "error", err)
	c.metrics.degraded(ctx, kind)

	var recs []record.Record
	err = c.withRecordStore(ctx, func(store backend.RecordStore, _ string) error {
		var err error
		recs, err = store.SearchRecords(ctx, kind, crit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// hitsToRecords decodes index hits, applies the field filter and limit.
// Entries that fail to decode are skipped.
func (c *Coordinator) hitsToRecords(kind, name string, hits []backend.Hit, crit backend.Criteria) []record.Record {
	f := crit.Filter()
	limit := f.EffectiveLimit()
	recs := make([]record.Record, 0, min(len(hits), limit))
	for _, h := range hits {
		if len(recs) >= limit {
			break
		}
		payload, err := record.DecodePayload(h.Payload)
		if err != nil {
			c.log.Warn("index entry decode failed", "backend", name, "kind", kind, "id", h.ID, "error", err)
			continue
		}
		if f.Match(payload) {
			recs = append(recs, record.New(kind, h.ID, payload))
		}
	}
	return recs
}

// Aggregate evaluates "count" or "count_by:<field>" on the search role,
// degrading to the record store like Search.
func (c *Coordinator) Aggregate(ctx context.Context, kind, aggregation string) (record.Value, error) {
	if err := c.checkOpen("aggregate"); err != nil {
		return nil, err
	}
	if err := record.ValidateName("kind", kind); err != nil {
		return nil, &backend.Error{Code: backend.CodeInvalid, Op: "aggregate", Kind: kind, Err: err}
	}

	idx, name, err := c.searchIndex()
	if err == nil {
		var v record.Value
		if v, err = idx.Aggregate(ctx, kind, aggregation); err == nil {
			return v, nil
		}
		if backend.CodeOf(err) == backend.CodeInvalid {
			return nil, err
		}
	}

	c.log.Warn("search degraded", "kind", kind, "backend", name, "error", err)
	c.metrics.degraded(ctx, kind)

	var recs []record.Record
	err = c.withRecordStore(ctx, func(store backend.RecordStore, _ string) error {
		var err error
		recs, err = store.ListRecords(ctx, kind, backend.Filter{Limit: backend.Unlimited})
		return err
	})
	if err != nil {
		return nil, err
	}
	payloads := make([]string, 0, len(recs))
	for _, r := range recs {
		text, err := r.Encode()
		if err != nil {
			continue
		}
		payloads = append(payloads, text)
	}
	return backend.Aggregate(payloads, aggregation)
}

// Increment atomically increments a counter on the cache role.
func (c *Coordinator) Increment(ctx context.Context, key string) (int64, error) {
	if err := c.checkOpen("increment"); err != nil {
		return 0, err
	}
	cache, _, err := c.cache()
	if err != nil {
		return 0, err
	}
	return cache.Increment(ctx, key)
}

// SetHash sets one hash field on the cache role.
func (c *Coordinator) SetHash(ctx context.Context, key, field, value string) error {
	if err := c.checkOpen("hash_set"); err != nil {
		return err
	}
	cache, _, err := c.cache()
	if err != nil {
		return err
	}
	return cache.SetHash(ctx, key, field, value)
}

// GetHash reads one hash field from the cache role.
func (c *Coordinator) GetHash(ctx context.Context, key, field string) (string, bool, error) {
	if err := c.checkOpen("hash_get"); err != nil {
		return "", false, err
	}
	cache, _, err := c.cache()
	if err != nil {
		return "", false, err
	}
	return cache.GetHash(ctx, key, field)
}

// Publish sends message on channel through the cache role.
func (c *Coordinator) Publish(ctx context.Context, channel, message string) error {
	if err := c.checkOpen("publish"); err != nil {
		return err
	}
	cache, _, err := c.cache()
	if err != nil {
		return err
	}
	return cache.Publish(ctx, channel, message)
}
