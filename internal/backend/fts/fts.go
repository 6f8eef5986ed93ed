// Package fts is a search-index backend on SQLite FTS5.
//
// Payloads are tokenized by the default unicode61 tokenizer, so queries match
// whole words case-insensitively. Each whitespace-separated query term is
// treated as a quoted prefix; all terms must match.
package fts

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

//go:embed schema.sql
var schemaSQL string

var errNotInitialized = errors.New("index not initialized")

var (
	_ backend.Backend     = (*Backend)(nil)
	_ backend.SearchIndex = (*Backend)(nil)
)

// Backend is a full-text search index stored in a SQLite file.
type Backend struct {
	name string
	path string

	mu sync.RWMutex
	db *sql.DB
}

// New returns an unopened index. The database is opened by Initialize.
func New(name, path string) *Backend {
	return &Backend{name: name, path: path}
}

func (b *Backend) Name() string                       { return b.name }
func (b *Backend) Class() backend.Class               { return backend.ClassSearchIndex }
func (b *Backend) Capabilities() backend.Capabilities { return backend.CapSearch }

// Initialize opens the database and creates the index tables.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	b.db = db
	return nil
}

// HealthCheck pings the database.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	db, err := b.handle()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

// Close closes the database. Safe to call repeatedly.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Backend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, errNotInitialized
	}
	return b.db, nil
}

func (b *Backend) unavailable(op, kind, id string, err error) error {
	return &backend.Error{Code: backend.CodeUnavailable, Op: op, Backend: b.name, Kind: kind, ID: id, Err: err}
}

// Index upserts the payload for (kind, id). The update trigger replaces the
// old tokens.
func (b *Backend) Index(ctx context.Context, kind, id, payload string) error {
	db, err := b.handle()
	if err != nil {
		return b.unavailable("index", kind, id, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO entries (kind, id, payload) VALUES (?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET payload = excluded.payload
	`, kind, id, payload)
	if err != nil {
		return b.unavailable("index", kind, id, err)
	}
	return nil
}

// DeleteIndex removes (kind, id). Succeeds when absent.
func (b *Backend) DeleteIndex(ctx context.Context, kind, id string) error {
	db, err := b.handle()
	if err != nil {
		return b.unavailable("delete_index", kind, id, err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM entries WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return b.unavailable("delete_index", kind, id, err)
	}
	return nil
}

// Query runs a full-text match over entries of kind, best rank first.
// An empty query returns every entry of kind ordered by id.
func (b *Backend) Query(ctx context.Context, kind, query string) ([]backend.Hit, error) {
	db, err := b.handle()
	if err != nil {
		return nil, b.unavailable("query", kind, "", err)
	}

	var rows *sql.Rows
	if match := matchExpr(query); match == "" {
		rows, err = db.QueryContext(ctx, `
			SELECT id, payload FROM entries
			WHERE kind = ?
			ORDER BY id
		`, kind)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT e.id, e.payload
			FROM entries e
			JOIN entries_fts f ON f.rowid = e.rowid
			WHERE entries_fts MATCH ? AND e.kind = ?
			ORDER BY f.rank, e.id
		`, match, kind)
	}
	if err != nil {
		return nil, b.unavailable("query", kind, "", err)
	}
	defer rows.Close()

	hits := []backend.Hit{}
	for rows.Next() {
		var h backend.Hit
		if err := rows.Scan(&h.ID, &h.Payload); err != nil {
			return nil, b.unavailable("query", kind, "", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, b.unavailable("query", kind, "", err)
	}
	return hits, nil
}

// Aggregate evaluates aggregation over every entry of kind.
func (b *Backend) Aggregate(ctx context.Context, kind, aggregation string) (record.Value, error) {
	db, err := b.handle()
	if err != nil {
		return nil, b.unavailable("aggregate", kind, "", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM entries WHERE kind = ?`, kind)
	if err != nil {
		return nil, b.unavailable("aggregate", kind, "", err)
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, b.unavailable("aggregate", kind, "", err)
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		return nil, b.unavailable("aggregate", kind, "", err)
	}

	return backend.Aggregate(payloads, aggregation)
}

// matchExpr turns free text into an FTS5 expression: every term becomes a
// quoted prefix query so punctuation and FTS5 operators are taken literally.
func matchExpr(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	return strings.Join(terms, " ")
}
