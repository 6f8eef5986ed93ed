// Package hybrid coordinates a set of storage backends behind one record API.
//
// Each backend serves some subset of three roles: record (authoritative
// CRUD), cache (read-through and write-through), and search (eventually
// consistent index). For every call the router picks the first healthy
// backend for the role in precedence order, falling back to an in-process
// memory backend that is always present.
//
// Writes go to the record role first. Only after the authoritative write
// succeeds does the coordinator fan out to the side roles: it upserts the
// search index, populates the single-record cache entry and invalidates
// materialized collections of the kind. Fanout failures are logged and
// counted but never change the result of the write.
//
// Thread-safety model:
//   - Every exported method is safe for concurrent use.
//   - Writes to the same (kind, id) are serialized through striped locks,
//     so one writer's fanout cannot interleave with another's.
//   - Fanout runs on a context detached from caller cancellation.
//
// Build a coordinator with NewBuilder:
//
//	c, err := hybrid.NewBuilder(hybrid.WithLogger(logger)).
//		WithRecordBackend(sqlite.New("primary", "records.db")).
//		WithSearchBackend(fts.New("search", "index.db")).
//		Build(ctx)
package hybrid
