package etcd

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/roach88/hybridstore/internal/backend"
)

// Set stores value under key. A positive ttl attaches a fresh lease rounded
// up to whole seconds; etcd enforces its own minimum lease TTL. The lease
// the key held before is revoked.
func (b *Backend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	client, err := b.handle()
	if err != nil {
		return b.unavailable("cache_set", "", key, err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrevKV()}
	if ttl > 0 {
		lease, err := client.Grant(ctx, int64(math.Ceil(ttl.Seconds())))
		if err != nil {
			return b.unavailable("cache_set", "", key, fmt.Errorf("grant lease: %w", err))
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	resp, err := client.Put(ctx, b.key("cache", key), value, opts...)
	if err != nil {
		return b.unavailable("cache_set", "", key, err)
	}
	if resp.PrevKv != nil {
		revoke(ctx, client, resp.PrevKv.Lease)
	}
	return nil
}

// revoke releases a lease whose key has moved on. Each lease backs a single
// cache key. A failed revoke leaves the lease to expire on its own.
func revoke(ctx context.Context, client *clientv3.Client, lease int64) {
	if clientv3.LeaseID(lease) != clientv3.NoLease {
		_, _ = client.Revoke(ctx, clientv3.LeaseID(lease))
	}
}

// Get returns the cached value and whether it was present.
func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	client, err := b.handle()
	if err != nil {
		return "", false, b.unavailable("cache_get", "", key, err)
	}

	resp, err := client.Get(ctx, b.key("cache", key))
	if err != nil {
		return "", false, b.unavailable("cache_get", "", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Delete removes the value and any hash fields stored under key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	client, err := b.handle()
	if err != nil {
		return b.unavailable("cache_delete", "", key, err)
	}

	resp, err := client.Txn(ctx).
		Then(
			clientv3.OpDelete(b.key("cache", key), clientv3.WithPrevKV()),
			clientv3.OpDelete(b.prefix("hash", key), clientv3.WithPrefix()),
		).
		Commit()
	if err != nil {
		return b.unavailable("cache_delete", "", key, err)
	}
	for _, kv := range resp.Responses[0].GetResponseDeleteRange().GetPrevKvs() {
		revoke(ctx, client, kv.Lease)
	}
	return nil
}

// Exists reports whether key holds a value.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	client, err := b.handle()
	if err != nil {
		return false, b.unavailable("cache_exists", "", key, err)
	}

	resp, err := client.Get(ctx, b.key("cache", key), clientv3.WithCountOnly())
	if err != nil {
		return false, b.unavailable("cache_exists", "", key, err)
	}
	return resp.Count > 0, nil
}

// Increment adds one with a compare-and-swap loop on the key's mod revision.
// An existing lease is kept.
func (b *Backend) Increment(ctx context.Context, key string) (int64, error) {
	client, err := b.handle()
	if err != nil {
		return 0, b.unavailable("increment", "", key, err)
	}

	k := b.key("cache", key)
	for {
		resp, err := client.Get(ctx, k)
		if err != nil {
			return 0, b.unavailable("increment", "", key, err)
		}

		var (
			n   int64
			cmp clientv3.Cmp
			put clientv3.Op
		)
		if len(resp.Kvs) == 0 {
			n = 1
			cmp = clientv3.Compare(clientv3.Version(k), "=", 0)
			put = clientv3.OpPut(k, "1")
		} else {
			kv := resp.Kvs[0]
			cur, err := strconv.ParseInt(string(kv.Value), 10, 64)
			if err != nil {
				return 0, &backend.Error{Code: backend.CodeInvalid, Op: "increment", Backend: b.name, Err: fmt.Errorf("key %q does not hold an integer", key)}
			}
			n = cur + 1
			cmp = clientv3.Compare(clientv3.ModRevision(k), "=", kv.ModRevision)
			put = clientv3.OpPut(k, strconv.FormatInt(n, 10), clientv3.WithIgnoreLease())
		}

		txn, err := client.Txn(ctx).If(cmp).Then(put).Commit()
		if err != nil {
			return 0, b.unavailable("increment", "", key, err)
		}
		if txn.Succeeded {
			return n, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, b.unavailable("increment", "", key, err)
		}
	}
}

// SetHash sets one field of the hash at key.
func (b *Backend) SetHash(ctx context.Context, key, field, value string) error {
	client, err := b.handle()
	if err != nil {
		return b.unavailable("hash_set", "", key, err)
	}

	if _, err := client.Put(ctx, b.key("hash", key, field), value); err != nil {
		return b.unavailable("hash_set", "", key, err)
	}
	return nil
}

// GetHash reads one field of the hash at key.
func (b *Backend) GetHash(ctx context.Context, key, field string) (string, bool, error) {
	client, err := b.handle()
	if err != nil {
		return "", false, b.unavailable("hash_get", "", key, err)
	}

	resp, err := client.Get(ctx, b.key("hash", key, field))
	if err != nil {
		return "", false, b.unavailable("hash_get", "", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Publish writes message to the channel key. Watchers see each put.
func (b *Backend) Publish(ctx context.Context, channel, message string) error {
	client, err := b.handle()
	if err != nil {
		return b.unavailable("publish", "", channel, err)
	}

	if _, err := client.Put(ctx, b.key("channels", channel), message); err != nil {
		return b.unavailable("publish", "", channel, err)
	}
	return nil
}

// Subscribe watches channel until ctx is done. Messages published before
// the watch starts are not delivered.
func (b *Backend) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	client, err := b.handle()
	if err != nil {
		return nil, b.unavailable("subscribe", "", channel, err)
	}

	out := make(chan string, 16)
	watch := client.Watch(ctx, b.key("channels", channel))
	go func() {
		defer close(out)
		for resp := range watch {
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				select {
				case out <- string(ev.Kv.Value):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
