package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// GetRecord returns the record, or nil when absent.
func (b *Backend) GetRecord(ctx context.Context, kind, id string) (*record.Record, error) {
	db, err := b.handle()
	if err != nil {
		return nil, b.unavailable("get", kind, id, err)
	}

	var payload string
	err = db.QueryRowContext(ctx, `
		SELECT payload FROM records WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, b.unavailable("get", kind, id, err)
	}

	obj, err := record.DecodePayload(payload)
	if err != nil {
		return nil, &backend.Error{Code: backend.CodeSerialization, Op: "get", Backend: b.name, Kind: kind, ID: id, Err: err}
	}
	rec := record.New(kind, id, obj)
	return &rec, nil
}

// ListRecords returns records of kind matching f, ordered by id.
func (b *Backend) ListRecords(ctx context.Context, kind string, f backend.Filter) ([]record.Record, error) {
	return b.scan(ctx, "list", kind, backend.Criteria{Where: f.Where, Limit: f.Limit})
}

// SearchRecords applies c to records of kind, ordered by id.
func (b *Backend) SearchRecords(ctx context.Context, kind string, c backend.Criteria) ([]record.Record, error) {
	return b.scan(ctx, "search", kind, c)
}

// scan streams rows in id order and stops once the limit is reached.
// Ordering: id COLLATE BINARY so results match the memory backend.
func (b *Backend) scan(ctx context.Context, op, kind string, c backend.Criteria) ([]record.Record, error) {
	db, err := b.handle()
	if err != nil {
		return nil, b.unavailable(op, kind, "", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, payload FROM records
		WHERE kind = ?
		ORDER BY id COLLATE BINARY ASC
	`, kind)
	if err != nil {
		return nil, b.unavailable(op, kind, "", err)
	}
	defer rows.Close()

	limit := c.Filter().EffectiveLimit()
	recs := []record.Record{}
	for len(recs) < limit && rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, b.unavailable(op, kind, "", err)
		}
		if !c.MatchText(payload) {
			continue
		}
		obj, err := record.DecodePayload(payload)
		if err != nil {
			return nil, &backend.Error{Code: backend.CodeSerialization, Op: op, Backend: b.name, Kind: kind, ID: id, Err: err}
		}
		if c.Filter().Match(obj) {
			recs = append(recs, record.New(kind, id, obj))
		}
	}

	if err := rows.Err(); err != nil {
		return nil, b.unavailable(op, kind, "", err)
	}
	return recs, nil
}
