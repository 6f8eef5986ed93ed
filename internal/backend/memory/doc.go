// Package memory is the in-process backend that implements the record,
// cache and search roles. The coordinator always registers one as the
// fallback for every role, and tests use it as the reference semantics.
//
// Cache TTLs are stored as absolute expiry times and evaluated lazily on
// read; WithClock lets tests drive expiry deterministically.
package memory
