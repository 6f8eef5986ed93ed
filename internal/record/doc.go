// Package record defines the kind-agnostic record type and the payload value
// model shared by every backend.
//
// Payloads are sealed values (string, int, bool, null, array, object). Floats
// are rejected so that serialization is stable: Marshal sorts object keys,
// leaves strings byte-for-byte intact, and its output round-trips through
// Unmarshal to an equal value.
//
// Cache keys are built here as well: "{kind}:{id}" for single records and
// "{kind}#{name}" for materialized collections.
package record
