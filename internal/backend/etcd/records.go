package etcd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// CreateRecord stores the record only if its key has never been written.
func (b *Backend) CreateRecord(ctx context.Context, rec record.Record) (string, error) {
	payload, err := rec.Encode()
	if err != nil {
		return "", &backend.Error{Code: backend.CodeSerialization, Op: "create", Backend: b.name, Kind: rec.Kind, ID: rec.ID, Err: err}
	}

	client, err := b.handle()
	if err != nil {
		return "", b.unavailable("create", rec.Kind, rec.ID, err)
	}

	key := b.key("records", rec.Kind, rec.ID)
	resp, err := client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(key), "=", 0)).
		Then(clientv3.OpPut(key, payload)).
		Commit()
	if err != nil {
		return "", b.unavailable("create", rec.Kind, rec.ID, err)
	}
	if !resp.Succeeded {
		return "", backend.Duplicate("create", rec.Kind, rec.ID)
	}
	return rec.ID, nil
}

// GetRecord returns the record, or nil when absent.
func (b *Backend) GetRecord(ctx context.Context, kind, id string) (*record.Record, error) {
	client, err := b.handle()
	if err != nil {
		return nil, b.unavailable("get", kind, id, err)
	}

	resp, err := client.Get(ctx, b.key("records", kind, id))
	if err != nil {
		return nil, b.unavailable("get", kind, id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	obj, err := record.DecodePayload(string(resp.Kvs[0].Value))
	if err != nil {
		return nil, &backend.Error{Code: backend.CodeSerialization, Op: "get", Backend: b.name, Kind: kind, ID: id, Err: err}
	}
	rec := record.New(kind, id, obj)
	return &rec, nil
}

// UpdateRecord replaces the payload only if the key exists.
func (b *Backend) UpdateRecord(ctx context.Context, rec record.Record) error {
	payload, err := rec.Encode()
	if err != nil {
		return &backend.Error{Code: backend.CodeSerialization, Op: "update", Backend: b.name, Kind: rec.Kind, ID: rec.ID, Err: err}
	}

	client, err := b.handle()
	if err != nil {
		return b.unavailable("update", rec.Kind, rec.ID, err)
	}

	key := b.key("records", rec.Kind, rec.ID)
	resp, err := client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(key), ">", 0)).
		Then(clientv3.OpPut(key, payload)).
		Commit()
	if err != nil {
		return b.unavailable("update", rec.Kind, rec.ID, err)
	}
	if !resp.Succeeded {
		return backend.NotFound("update", rec.Kind, rec.ID)
	}
	return nil
}

// DeleteRecord removes the record. Succeeds when absent.
func (b *Backend) DeleteRecord(ctx context.Context, kind, id string) error {
	client, err := b.handle()
	if err != nil {
		return b.unavailable("delete", kind, id, err)
	}

	if _, err := client.Delete(ctx, b.key("records", kind, id)); err != nil {
		return b.unavailable("delete", kind, id, err)
	}
	return nil
}

// ListRecords returns records of kind matching f, ordered by id.
func (b *Backend) ListRecords(ctx context.Context, kind string, f backend.Filter) ([]record.Record, error) {
	return b.scan(ctx, "list", kind, backend.Criteria{Where: f.Where, Limit: f.Limit})
}

// SearchRecords applies c to records of kind, ordered by id.
func (b *Backend) SearchRecords(ctx context.Context, kind string, c backend.Criteria) ([]record.Record, error) {
	return b.scan(ctx, "search", kind, c)
}

func (b *Backend) scan(ctx context.Context, op, kind string, c backend.Criteria) ([]record.Record, error) {
	client, err := b.handle()
	if err != nil {
		return nil, b.unavailable(op, kind, "", err)
	}

	resp, err := client.Get(ctx, b.prefix("records", kind), clientv3.WithPrefix())
	if err != nil {
		return nil, b.unavailable(op, kind, "", err)
	}

	// Escaped keys do not sort like ids; order after unescaping.
	hits := make([]backend.Hit, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		hits = append(hits, backend.Hit{ID: lastSegment(string(kv.Key)), Payload: string(kv.Value)})
	}
	sortHits(hits)

	limit := c.Filter().EffectiveLimit()
	recs := make([]record.Record, 0, min(len(hits), limit))
	for _, h := range hits {
		if len(recs) >= limit {
			break
		}
		if !c.MatchText(h.Payload) {
			continue
		}
		obj, err := record.DecodePayload(h.Payload)
		if err != nil {
			return nil, &backend.Error{Code: backend.CodeSerialization, Op: op, Backend: b.name, Kind: kind, ID: h.ID, Err: err}
		}
		if c.Filter().Match(obj) {
			recs = append(recs, record.New(kind, h.ID, obj))
		}
	}
	return recs, nil
}
