package etcd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// Index upserts the search entry for (kind, id).
func (b *Backend) Index(ctx context.Context, kind, id, payload string) error {
	client, err := b.handle()
	if err != nil {
		return b.unavailable("index", kind, id, err)
	}

	if _, err := client.Put(ctx, b.key("index", kind, id), payload); err != nil {
		return b.unavailable("index", kind, id, err)
	}
	return nil
}

// DeleteIndex removes the search entry. Succeeds when absent.
func (b *Backend) DeleteIndex(ctx context.Context, kind, id string) error {
	client, err := b.handle()
	if err != nil {
		return b.unavailable("delete_index", kind, id, err)
	}

	if _, err := client.Delete(ctx, b.key("index", kind, id)); err != nil {
		return b.unavailable("delete_index", kind, id, err)
	}
	return nil
}

// Query scans the kind's entries with the shared substring rule.
func (b *Backend) Query(ctx context.Context, kind, query string) ([]backend.Hit, error) {
	entries, err := b.entries(ctx, "query", kind)
	if err != nil {
		return nil, err
	}

	hits := make([]backend.Hit, 0, len(entries))
	for _, h := range entries {
		if backend.MatchText(h.Payload, query) {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// Aggregate evaluates aggregation over the kind's entries.
func (b *Backend) Aggregate(ctx context.Context, kind, aggregation string) (record.Value, error) {
	entries, err := b.entries(ctx, "aggregate", kind)
	if err != nil {
		return nil, err
	}

	payloads := make([]string, len(entries))
	for i, h := range entries {
		payloads[i] = h.Payload
	}
	return backend.Aggregate(payloads, aggregation)
}

func (b *Backend) entries(ctx context.Context, op, kind string) ([]backend.Hit, error) {
	client, err := b.handle()
	if err != nil {
		return nil, b.unavailable(op, kind, "", err)
	}

	resp, err := client.Get(ctx, b.prefix("index", kind), clientv3.WithPrefix())
	if err != nil {
		return nil, b.unavailable(op, kind, "", err)
	}

	hits := make([]backend.Hit, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		hits = append(hits, backend.Hit{ID: lastSegment(string(kv.Key)), Payload: string(kv.Value)})
	}
	sortHits(hits)
	return hits, nil
}
