package backend

import (
	"context"
	"strings"
	"time"

	"github.com/roach88/hybridstore/internal/record"
)

// Role is one of the three storage roles a backend can serve.
type Role string

const (
	RoleRecord Role = "record"
	RoleCache  Role = "cache"
	RoleSearch Role = "search"
)

// Roles lists every role in routing order.
var Roles = []Role{RoleRecord, RoleCache, RoleSearch}

// Capabilities is the set of roles an adapter implements.
type Capabilities uint8

const (
	CapRecord Capabilities = 1 << iota
	CapCache
	CapSearch

	CapAll = CapRecord | CapCache | CapSearch
)

// Has reports whether the set includes role.
func (c Capabilities) Has(role Role) bool {
	switch role {
	case RoleRecord:
		return c&CapRecord != 0
	case RoleCache:
		return c&CapCache != 0
	case RoleSearch:
		return c&CapSearch != 0
	}
	return false
}

// String renders the set as "record,cache,search".
func (c Capabilities) String() string {
	var parts []string
	for _, r := range Roles {
		if c.Has(r) {
			parts = append(parts, string(r))
		}
	}
	return strings.Join(parts, ",")
}

// Class identifies the kind of storage engine behind an adapter.
// The router uses it for default role precedence.
type Class string

const (
	ClassRelational  Class = "relational"
	ClassDocument    Class = "document"
	ClassKV          Class = "kv"
	ClassSearchIndex Class = "search-index"
	ClassMemory      Class = "memory"
)

// Status is the lifecycle state of a backend as seen by the coordinator.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusHealthy
	StatusUnhealthy
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Backend is the liveness contract every adapter implements.
type Backend interface {
	// Name is the configured backend name.
	Name() string

	// Class reports the storage engine class.
	Class() Class

	// Capabilities reports which role interfaces the adapter implements.
	Capabilities() Capabilities

	// Initialize connects and prepares the backend. Must be idempotent:
	// the coordinator calls it again when a failed backend is re-probed.
	Initialize(ctx context.Context) error

	// HealthCheck is a fast, non-destructive probe used for routing.
	HealthCheck(ctx context.Context) bool

	// Close flushes pending work and releases resources. Idempotent.
	Close(ctx context.Context) error
}

// RecordStore is the durable CRUD role.
type RecordStore interface {
	// CreateRecord stores a new record and returns its id.
	// Returns ErrDuplicate if (kind, id) already exists.
	CreateRecord(ctx context.Context, rec record.Record) (string, error)

	// GetRecord returns the record, or nil with no error when it does not exist.
	GetRecord(ctx context.Context, kind, id string) (*record.Record, error)

	// UpdateRecord replaces the payload. Returns ErrNotFound if absent.
	UpdateRecord(ctx context.Context, rec record.Record) error

	// DeleteRecord removes the record. Succeeds when absent.
	DeleteRecord(ctx context.Context, kind, id string) error

	// ListRecords returns at most f.Limit records of kind matching f.
	ListRecords(ctx context.Context, kind string, f Filter) ([]record.Record, error)

	// SearchRecords is a coarse server-side filter over records of kind.
	SearchRecords(ctx context.Context, kind string, c Criteria) ([]record.Record, error)
}

// Cache is the key-value cache role. Values are opaque text.
type Cache interface {
	// Set stores value under key. ttl <= 0 means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Delete removes key. Succeeds when absent.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Increment atomically adds one. An absent key starts at zero.
	Increment(ctx context.Context, key string) (int64, error)

	// SetHash sets one field of a hash.
	SetHash(ctx context.Context, key, field, value string) error

	// GetHash returns one field of a hash and whether it was present.
	GetHash(ctx context.Context, key, field string) (string, bool, error)

	// Publish sends message on channel without waiting for receivers.
	Publish(ctx context.Context, channel, message string) error
}

// Hit is one search result: the indexed id and its serialized payload.
type Hit struct {
	ID      string
	Payload string
}

// SearchIndex is the eventually consistent search role.
type SearchIndex interface {
	// Index upserts the serialized payload for (kind, id).
	Index(ctx context.Context, kind, id, payload string) error

	// DeleteIndex removes (kind, id). Succeeds when absent.
	DeleteIndex(ctx context.Context, kind, id string) error

	// Query returns entries of kind matching the free-text query.
	Query(ctx context.Context, kind, query string) ([]Hit, error)

	// Aggregate evaluates an aggregation ("count", "count_by:<field>").
	Aggregate(ctx context.Context, kind, aggregation string) (record.Value, error)
}
