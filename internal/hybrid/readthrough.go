package hybrid

import (
	"context"
	"fmt"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// Get returns the record for (kind, id), or nil when it does not exist.
//
// The cache is consulted first. An entry that fails to decode is deleted and
// treated as a miss. On a miss the record store is read and, if the record
// exists, the cache is back-filled with the kind's TTL. Missing records are
// never cached.
func (c *Coordinator) Get(ctx context.Context, kind, id string) (*record.Record, error) {
	if err := c.checkOpen("get"); err != nil {
		return nil, err
	}
	if err := validateKey("get", kind, id); err != nil {
		return nil, err
	}

	key := record.Key(kind, id)
	cache, cacheName, cacheErr := c.cache()
	if cacheErr == nil {
		if payload, ok := c.cachedPayload(ctx, cache, cacheName, kind, key); ok {
			c.metrics.cacheHit(ctx, kind)
			rec := record.New(kind, id, payload)
			return &rec, nil
		}
	}
	c.metrics.cacheMiss(ctx, kind)

	// Hold the key's write lock so a concurrent update cannot land between
	// the record read and the back-fill.
	unlock := c.lock(key)
	defer unlock()

	var rec *record.Record
	err := c.withRecordStore(ctx, func(store backend.RecordStore, _ string) error {
		var err error
		rec, err = store.GetRecord(ctx, kind, id)
		return err
	})
	if err != nil || rec == nil {
		return nil, err
	}

	if cacheErr == nil {
		c.backfill(ctx, cache, cacheName, key, rec)
	}
	return rec, nil
}

// cachedPayload reads and decodes key. Read errors and undecodable entries
// are misses.
func (c *Coordinator) cachedPayload(ctx context.Context, cache backend.Cache, name, kind, key string) (record.Object, bool) {
	text, ok, err := cache.Get(ctx, key)
	if err != nil {
		c.log.Debug("cache read failed", "backend", name, "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	payload, err := record.DecodePayload(text)
	if err != nil {
		c.log.Warn("cache decode failed", "backend", name, "key", key, "error", err)
		if err := cache.Delete(ctx, key); err != nil {
			c.log.Warn("cache delete failed", "backend", name, "key", key, "error", err)
		}
		return nil, false
	}
	return payload, true
}

func (c *Coordinator) backfill(ctx context.Context, cache backend.Cache, name, key string, rec *record.Record) {
	text, err := rec.Encode()
	if err == nil {
		err = cache.Set(ctx, key, text, c.ttls[rec.Kind])
	}
	if err != nil {
		c.log.Warn("cache populate failed", "backend", name, "key", key, "error", err)
	}
}

// Collection returns the materialized collection kind#name. A cached copy is
// served until its TTL expires or a write to the kind invalidates it.
func (c *Coordinator) Collection(ctx context.Context, kind, name string) ([]record.Record, error) {
	if err := c.checkOpen("collection"); err != nil {
		return nil, err
	}

	col, ok := c.collection(kind, name)
	if !ok {
		return nil, &backend.Error{Code: backend.CodeInvalid, Op: "collection", Kind: kind, ID: name, Err: fmt.Errorf("collection %s is not registered", record.CollectionKey(kind, name))}
	}

	key := record.CollectionKey(kind, name)
	cache, cacheName, cacheErr := c.cache()
	if cacheErr == nil {
		if recs, ok := c.cachedCollection(ctx, cache, cacheName, kind, key); ok {
			c.metrics.cacheHit(ctx, kind)
			return recs, nil
		}
	}
	c.metrics.cacheMiss(ctx, kind)

	// A write that commits during the list invalidates only after the
	// back-fill below, never before it.
	mu := c.collectionLocks[kind]
	mu.Lock()
	defer mu.Unlock()

	var recs []record.Record
	err := c.withRecordStore(ctx, func(store backend.RecordStore, _ string) error {
		var err error
		recs, err = store.ListRecords(ctx, kind, col.Filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cacheErr == nil {
		text, err := record.EncodeRecords(recs)
		if err == nil {
			err = cache.Set(ctx, key, text, col.TTL)
		}
		if err != nil {
			c.log.Warn("cache populate failed", "backend", cacheName, "key", key, "error", err)
		}
	}
	return recs, nil
}

func (c *Coordinator) collection(kind, name string) (Collection, bool) {
	for _, col := range c.collections[kind] {
		if col.Name == name {
			return col, true
		}
	}
	return Collection{}, false
}

func (c *Coordinator) cachedCollection(ctx context.Context, cache backend.Cache, name, kind, key string) ([]record.Record, bool) {
	text, ok, err := cache.Get(ctx, key)
	if err != nil {
		c.log.Debug("cache read failed", "backend", name, "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	recs, err := record.DecodeRecords(kind, text)
	if err != nil {
		c.log.Warn("cache decode failed", "backend", name, "key", key, "error", err)
		if err := cache.Delete(ctx, key); err != nil {
			c.log.Warn("cache delete failed", "backend", name, "key", key, "error", err)
		}
		return nil, false
	}
	return recs, true
}
