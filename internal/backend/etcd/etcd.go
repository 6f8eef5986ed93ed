// Package etcd is a document backend on etcd serving all three roles.
//
// Keys are laid out under a namespace, one subtree per role:
//
//	/{namespace}/records/{kind}/{id}     record payloads (no lease)
//	/{namespace}/cache/{key}             cache values, leased when a TTL is set
//	/{namespace}/hash/{key}/{field}      hash fields
//	/{namespace}/index/{kind}/{id}       search entries
//	/{namespace}/channels/{channel}      last published message; watch to subscribe
//
// Every path segment is escaped with url.PathEscape so ids containing "/"
// cannot leak into a neighbouring prefix.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/roach88/hybridstore/internal/backend"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "hybridstore"

// DefaultDialTimeout bounds connection setup and health probes.
const DefaultDialTimeout = 5 * time.Second

var errNotInitialized = errors.New("etcd client not initialized")

var (
	_ backend.Backend     = (*Backend)(nil)
	_ backend.RecordStore = (*Backend)(nil)
	_ backend.Cache       = (*Backend)(nil)
	_ backend.SearchIndex = (*Backend)(nil)
)

// Backend stores records, cache entries and index entries in etcd.
type Backend struct {
	name        string
	endpoints   []string
	namespace   string
	dialTimeout time.Duration
	class       backend.Class
	caps        backend.Capabilities

	mu     sync.RWMutex
	client *clientv3.Client
}

// Option configures a Backend.
type Option func(*Backend)

// WithNamespace sets the key prefix.
func WithNamespace(ns string) Option {
	return func(b *Backend) {
		if ns != "" {
			b.namespace = ns
		}
	}
}

// WithDialTimeout sets the dial and probe timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.dialTimeout = d
		}
	}
}

// WithClass overrides the class reported to the router. A deployment that
// uses etcd purely as a cache declares it as backend.ClassKV.
func WithClass(c backend.Class) Option {
	return func(b *Backend) {
		b.class = c
	}
}

// WithCapabilities restricts the roles the backend advertises.
func WithCapabilities(c backend.Capabilities) Option {
	return func(b *Backend) {
		b.caps = c
	}
}

// New returns an unconnected backend. Initialize dials the endpoints.
func New(name string, endpoints []string, opts ...Option) *Backend {
	b := &Backend{
		name:        name,
		endpoints:   endpoints,
		namespace:   DefaultNamespace,
		dialTimeout: DefaultDialTimeout,
		class:       backend.ClassDocument,
		caps:        backend.CapAll,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string                       { return b.name }
func (b *Backend) Class() backend.Class               { return b.class }
func (b *Backend) Capabilities() backend.Capabilities { return b.caps }

// Initialize creates the client and verifies the cluster answers.
// Calling it on a connected backend is a no-op.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return nil
	}
	if len(b.endpoints) == 0 {
		return fmt.Errorf("no etcd endpoints configured")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   b.endpoints,
		DialTimeout: b.dialTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create etcd client: %w", err)
	}

	// Confirm the cluster serves reads before routing to it.
	if err := probe(ctx, client, b.healthKey(), b.dialTimeout); err != nil {
		client.Close()
		return fmt.Errorf("failed to reach etcd: %w", err)
	}

	b.client = client
	return nil
}

// HealthCheck issues a count-only read bounded by the dial timeout.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	client, err := b.handle()
	if err != nil {
		return false
	}
	return probe(ctx, client, b.healthKey(), b.dialTimeout) == nil
}

// Close releases the client. Safe to call repeatedly.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func probe(ctx context.Context, client *clientv3.Client, key string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := client.Get(ctx, key, clientv3.WithCountOnly())
	return err
}

func (b *Backend) handle() (*clientv3.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.client == nil {
		return nil, errNotInitialized
	}
	return b.client, nil
}

func (b *Backend) unavailable(op, kind, id string, err error) error {
	return &backend.Error{Code: backend.CodeUnavailable, Op: op, Backend: b.name, Kind: kind, ID: id, Err: err}
}

// key builds /{namespace}/{subtree}/{escaped parts...}. Segments are joined
// verbatim; path.Join would collapse an id of "..".
func (b *Backend) key(subtree string, parts ...string) string {
	elems := make([]string, 0, len(parts)+2)
	elems = append(elems, url.PathEscape(b.namespace), subtree)
	for _, p := range parts {
		elems = append(elems, url.PathEscape(p))
	}
	return "/" + strings.Join(elems, "/")
}

// prefix is key with a trailing slash, for WithPrefix reads.
func (b *Backend) prefix(subtree string, parts ...string) string {
	return b.key(subtree, parts...) + "/"
}

func (b *Backend) healthKey() string {
	return b.key("health")
}

// lastSegment unescapes the final path element of an etcd key.
func lastSegment(key string) string {
	seg := key[strings.LastIndex(key, "/")+1:]
	if s, err := url.PathUnescape(seg); err == nil {
		return s
	}
	return seg
}

func sortHits(hits []backend.Hit) {
	slices.SortFunc(hits, func(a, b backend.Hit) int {
		return strings.Compare(a.ID, b.ID)
	})
}
