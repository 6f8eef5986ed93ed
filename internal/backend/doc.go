// Package backend defines the role contracts a storage adapter implements
// and the pieces shared between adapters and the coordinator.
//
// An adapter implements Backend (liveness) plus any non-empty subset of:
//   - RecordStore: durable CRUD by (kind, id), list and coarse search
//   - Cache: string values with TTL, counters, hashes, publish
//   - SearchIndex: eventually consistent index/query/aggregate
//
// Capabilities must agree with the interfaces actually implemented; the
// coordinator's builder rejects adapters that declare a role they do not
// implement.
//
// # Errors
//
// Every adapter reports failures through *Error so callers can branch with
// errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate) and so on.
// Absence on Get is not an error: Get returns (nil, nil).
package backend
