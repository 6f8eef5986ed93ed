package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// DefaultName is the name the coordinator registers the fallback under.
const DefaultName = "memory"

var errPoisoned = errors.New("memory backend poisoned")

var (
	_ backend.Backend     = (*Backend)(nil)
	_ backend.RecordStore = (*Backend)(nil)
	_ backend.Cache       = (*Backend)(nil)
	_ backend.SearchIndex = (*Backend)(nil)
)

// Backend implements all three roles in process.
//
// Records and index entries are held in serialized form so callers can never
// mutate stored state through a returned value. Each role has its own lock.
type Backend struct {
	name     string
	now      func() time.Time
	poisoned atomic.Bool
	closed   atomic.Bool

	recMu   sync.RWMutex
	records map[string]map[string]string // kind -> id -> payload

	cacheMu sync.Mutex
	entries map[string]cacheEntry
	hashes  map[string]map[string]string

	subMu sync.Mutex
	subs  map[string][]chan string

	idxMu sync.RWMutex
	index map[string]map[string]string // kind -> id -> payload
}

type cacheEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Option configures a memory Backend.
type Option func(*Backend)

// WithClock overrides the wall clock used for TTL evaluation.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithName overrides DefaultName.
func WithName(name string) Option {
	return func(b *Backend) {
		b.name = name
	}
}

// New creates an empty memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		name:    DefaultName,
		now:     time.Now,
		records: make(map[string]map[string]string),
		entries: make(map[string]cacheEntry),
		hashes:  make(map[string]map[string]string),
		subs:    make(map[string][]chan string),
		index:   make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string                       { return b.name }
func (b *Backend) Class() backend.Class               { return backend.ClassMemory }
func (b *Backend) Capabilities() backend.Capabilities { return backend.CapAll }

// Poison makes HealthCheck and Initialize fail. Test hook.
func (b *Backend) Poison(on bool) {
	b.poisoned.Store(on)
}

// Initialize is a no-op unless poisoned.
func (b *Backend) Initialize(ctx context.Context) error {
	if b.poisoned.Load() {
		return errPoisoned
	}
	b.closed.Store(false)
	return nil
}

// HealthCheck returns true unless poisoned or closed.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	return !b.poisoned.Load() && !b.closed.Load()
}

// Close closes every subscriber channel. Stored data is kept.
func (b *Backend) Close(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for ch, subs := range b.subs {
		for _, sub := range subs {
			close(sub)
		}
		delete(b.subs, ch)
	}
	return nil
}

// CreateRecord stores a new record.
func (b *Backend) CreateRecord(ctx context.Context, rec record.Record) (string, error) {
	text, err := rec.Encode()
	if err != nil {
		return "", &backend.Error{Code: backend.CodeSerialization, Op: "create", Backend: b.name, Kind: rec.Kind, ID: rec.ID, Err: err}
	}

	b.recMu.Lock()
	defer b.recMu.Unlock()

	byID, ok := b.records[rec.Kind]
	if !ok {
		byID = make(map[string]string)
		b.records[rec.Kind] = byID
	}
	if _, exists := byID[rec.ID]; exists {
		return "", backend.Duplicate("create", rec.Kind, rec.ID)
	}
	byID[rec.ID] = text
	return rec.ID, nil
}

// GetRecord returns the record or nil.
func (b *Backend) GetRecord(ctx context.Context, kind, id string) (*record.Record, error) {
	b.recMu.RLock()
	text, ok := b.records[kind][id]
	b.recMu.RUnlock()

	if !ok {
		return nil, nil
	}
	payload, err := record.DecodePayload(text)
	if err != nil {
		return nil, &backend.Error{Code: backend.CodeSerialization, Op: "get", Backend: b.name, Kind: kind, ID: id, Err: err}
	}
	rec := record.New(kind, id, payload)
	return &rec, nil
}

// UpdateRecord replaces an existing record.
func (b *Backend) UpdateRecord(ctx context.Context, rec record.Record) error {
	text, err := rec.Encode()
	if err != nil {
		return &backend.Error{Code: backend.CodeSerialization, Op: "update", Backend: b.name, Kind: rec.Kind, ID: rec.ID, Err: err}
	}

	b.recMu.Lock()
	defer b.recMu.Unlock()

	if _, ok := b.records[rec.Kind][rec.ID]; !ok {
		return backend.NotFound("update", rec.Kind, rec.ID)
	}
	b.records[rec.Kind][rec.ID] = text
	return nil
}

// DeleteRecord removes a record if present.
func (b *Backend) DeleteRecord(ctx context.Context, kind, id string) error {
	b.recMu.Lock()
	defer b.recMu.Unlock()

	delete(b.records[kind], id)
	return nil
}

// ListRecords returns records of kind ordered by id.
func (b *Backend) ListRecords(ctx context.Context, kind string, f backend.Filter) ([]record.Record, error) {
	return b.scan(kind, backend.Criteria{Where: f.Where, Limit: f.Limit})
}

// SearchRecords applies criteria to records of kind ordered by id.
func (b *Backend) SearchRecords(ctx context.Context, kind string, c backend.Criteria) ([]record.Record, error) {
	return b.scan(kind, c)
}

func (b *Backend) scan(kind string, c backend.Criteria) ([]record.Record, error) {
	b.recMu.RLock()
	byID := b.records[kind]
	ids := make([]string, 0, len(byID))
	texts := make(map[string]string, len(byID))
	for id, text := range byID {
		ids = append(ids, id)
		texts[id] = text
	}
	b.recMu.RUnlock()

	slices.Sort(ids)

	limit := c.Filter().EffectiveLimit()
	out := make([]record.Record, 0, min(len(ids), limit))
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		text := texts[id]
		if !c.MatchText(text) {
			continue
		}
		payload, err := record.DecodePayload(text)
		if err != nil {
			return nil, &backend.Error{Code: backend.CodeSerialization, Op: "list", Backend: b.name, Kind: kind, ID: id, Err: err}
		}
		if c.Filter().Match(payload) {
			out = append(out, record.New(kind, id, payload))
		}
	}
	return out, nil
}

// Set stores a cache value with an absolute expiry of now+ttl.
func (b *Backend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	b.entries[key] = b.newEntry(value, ttl)
	return nil
}

func (b *Backend) newEntry(value string, ttl time.Duration) cacheEntry {
	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	return e
}

// lookup returns a live entry, evicting it if expired. Caller holds cacheMu.
func (b *Backend) lookup(key string) (cacheEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if e.expired(b.now()) {
		delete(b.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

// Get returns a live cache value. Expiry is evaluated lazily.
func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	e, ok := b.lookup(key)
	return e.value, ok, nil
}

// Delete removes a cache value and any hash stored under key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	delete(b.entries, key)
	delete(b.hashes, key)
	return nil
}

// Exists reports whether key holds a live value.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	_, ok := b.lookup(key)
	return ok, nil
}

// Increment adds one to an integer value, keeping its expiry.
func (b *Backend) Increment(ctx context.Context, key string) (int64, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	e, ok := b.lookup(key)
	var n int64
	if ok {
		var err error
		n, err = strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, &backend.Error{Code: backend.CodeInvalid, Op: "increment", Backend: b.name, Err: fmt.Errorf("key %q does not hold an integer", key)}
		}
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	b.entries[key] = e
	return n, nil
}

// SetHash sets one hash field.
func (b *Backend) SetHash(ctx context.Context, key, field, value string) error {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	h[field] = value
	return nil
}

// GetHash reads one hash field.
func (b *Backend) GetHash(ctx context.Context, key, field string) (string, bool, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	v, ok := b.hashes[key][field]
	return v, ok, nil
}

// Publish delivers message to current subscribers without blocking.
// Subscribers with a full buffer miss the message.
func (b *Backend) Publish(ctx context.Context, channel, message string) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for _, sub := range b.subs[channel] {
		select {
		case sub <- message:
		default:
		}
	}
	return nil
}

// Subscribe registers a receiver on channel. The returned func unsubscribes.
func (b *Backend) Subscribe(channel string, buffer int) (<-chan string, func()) {
	ch := make(chan string, buffer)

	b.subMu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.subMu.Lock()
			defer b.subMu.Unlock()
			subs := b.subs[channel]
			for i, sub := range subs {
				if sub == ch {
					b.subs[channel] = slices.Delete(subs, i, i+1)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel
}

// Index upserts a search entry.
func (b *Backend) Index(ctx context.Context, kind, id, payload string) error {
	b.idxMu.Lock()
	defer b.idxMu.Unlock()

	byID, ok := b.index[kind]
	if !ok {
		byID = make(map[string]string)
		b.index[kind] = byID
	}
	byID[id] = payload
	return nil
}

// DeleteIndex removes a search entry if present.
func (b *Backend) DeleteIndex(ctx context.Context, kind, id string) error {
	b.idxMu.Lock()
	defer b.idxMu.Unlock()

	delete(b.index[kind], id)
	return nil
}

// Query scans entries of kind with a case-insensitive substring match.
// Results are ordered by id.
func (b *Backend) Query(ctx context.Context, kind, query string) ([]backend.Hit, error) {
	b.idxMu.RLock()
	defer b.idxMu.RUnlock()

	hits := make([]backend.Hit, 0)
	for id, payload := range b.index[kind] {
		if backend.MatchText(payload, query) {
			hits = append(hits, backend.Hit{ID: id, Payload: payload})
		}
	}
	slices.SortFunc(hits, func(a, b backend.Hit) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return hits, nil
}

// Aggregate evaluates aggregation over indexed entries of kind.
func (b *Backend) Aggregate(ctx context.Context, kind, aggregation string) (record.Value, error) {
	b.idxMu.RLock()
	payloads := make([]string, 0, len(b.index[kind]))
	for _, p := range b.index[kind] {
		payloads = append(payloads, p)
	}
	b.idxMu.RUnlock()

	return backend.Aggregate(payloads, aggregation)
}

// Indexed reports whether (kind, id) has a search entry. Test hook.
func (b *Backend) Indexed(kind, id string) bool {
	b.idxMu.RLock()
	defer b.idxMu.RUnlock()

	_, ok := b.index[kind][id]
	return ok
}
