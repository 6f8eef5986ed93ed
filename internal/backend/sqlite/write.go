package sqlite

import (
	"context"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// CreateRecord inserts a new record. ON CONFLICT DO NOTHING turns a primary
// key collision into zero affected rows, reported as Duplicate.
func (b *Backend) CreateRecord(ctx context.Context, rec record.Record) (string, error) {
	payload, err := rec.Encode()
	if err != nil {
		return "", &backend.Error{Code: backend.CodeSerialization, Op: "create", Backend: b.name, Kind: rec.Kind, ID: rec.ID, Err: err}
	}

	db, err := b.handle()
	if err != nil {
		return "", b.unavailable("create", rec.Kind, rec.ID, err)
	}

	now := b.now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		INSERT INTO records (kind, id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO NOTHING
	`, rec.Kind, rec.ID, payload, now, now)
	if err != nil {
		return "", b.unavailable("create", rec.Kind, rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", b.unavailable("create", rec.Kind, rec.ID, err)
	}
	if n == 0 {
		return "", backend.Duplicate("create", rec.Kind, rec.ID)
	}
	return rec.ID, nil
}

// UpdateRecord replaces the payload of an existing record.
func (b *Backend) UpdateRecord(ctx context.Context, rec record.Record) error {
	payload, err := rec.Encode()
	if err != nil {
		return &backend.Error{Code: backend.CodeSerialization, Op: "update", Backend: b.name, Kind: rec.Kind, ID: rec.ID, Err: err}
	}

	db, err := b.handle()
	if err != nil {
		return b.unavailable("update", rec.Kind, rec.ID, err)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE records SET payload = ?, updated_at = ?
		WHERE kind = ? AND id = ?
	`, payload, b.now().UnixMilli(), rec.Kind, rec.ID)
	if err != nil {
		return b.unavailable("update", rec.Kind, rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return b.unavailable("update", rec.Kind, rec.ID, err)
	}
	if n == 0 {
		return backend.NotFound("update", rec.Kind, rec.ID)
	}
	return nil
}

// DeleteRecord removes a record. Deleting an absent record succeeds.
func (b *Backend) DeleteRecord(ctx context.Context, kind, id string) error {
	db, err := b.handle()
	if err != nil {
		return b.unavailable("delete", kind, id, err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return b.unavailable("delete", kind, id, err)
	}
	return nil
}
