package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/hybridstore/internal/backend"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial records table
// 1 - Added (kind, updated_at) index
const currentSchemaVersion = 1

var errNotInitialized = errors.New("database not initialized")

var (
	_ backend.Backend     = (*Backend)(nil)
	_ backend.RecordStore = (*Backend)(nil)
)

// Backend is a record store on a SQLite file.
type Backend struct {
	name string
	path string
	now  func() time.Time

	mu sync.RWMutex
	db *sql.DB
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New returns an unopened backend. The database is opened by Initialize.
func New(name, path string, opts ...Option) *Backend {
	b := &Backend{
		name: name,
		path: path,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string                       { return b.name }
func (b *Backend) Class() backend.Class               { return backend.ClassRelational }
func (b *Backend) Capabilities() backend.Capabilities { return backend.CapRecord }

// Initialize opens the database, applies pragmas and migrations.
// Calling it on an open backend is a no-op.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", b.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
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

// Close closes the database connection. Safe to call repeatedly.
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

// unavailable wraps a driver error for op.
func (b *Backend) unavailable(op, kind, id string, err error) error {
	return &backend.Error{Code: backend.CodeUnavailable, Op: op, Backend: b.name, Kind: kind, ID: id, Err: err}
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func migrateToV1(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_records_kind_updated
		ON records(kind, updated_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (b *Backend) verifyPragma(name, expected string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	var value string
	if err := db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
