// Package sqlite is the relational record backend.
//
// Records live in a single table keyed by (kind, id) with the canonical JSON
// payload stored as text. The database runs in WAL mode with a single
// connection, so SQLite itself serializes writers and the primary key
// enforces create-once semantics.
package sqlite
