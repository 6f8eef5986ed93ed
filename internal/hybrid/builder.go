package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/backend/memory"
	"github.com/roach88/hybridstore/internal/record"
)

// Default cache policy.
const (
	DefaultIncidentTTL     = 3600 * time.Second
	DefaultAlertTTL        = 1800 * time.Second
	DefaultCollectionTTL   = 300 * time.Second
	DefaultHealthThreshold = 3
)

// DefaultKindTTLs returns the built-in per-kind cache TTLs. Kinds not listed
// are cached without expiry.
func DefaultKindTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"incident": DefaultIncidentTTL,
		"alert":    DefaultAlertTTL,
	}
}

// Option configures ambient behaviour of the coordinator.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	meterProvider   metric.MeterProvider
	memory          *memory.Backend
	ids             IDGenerator
	fanoutDisabled  bool
	fanoutTimeout   time.Duration
	healthThreshold int
	healthInterval  time.Duration
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
// Default: the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithMemory supplies the memory fallback instance, so callers can inspect
// it or drive its clock.
func WithMemory(m *memory.Backend) Option {
	return func(o *options) {
		o.memory = m
	}
}

// WithIDGenerator sets the generator used when Create receives an empty id.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithFanoutDisabled turns off every write-path side effect. Reads still
// back-fill the cache. Test hook for observing TTL behaviour in isolation.
func WithFanoutDisabled() Option {
	return func(o *options) {
		o.fanoutDisabled = true
	}
}

// WithFanoutTimeout bounds each fanout round. Zero means no bound.
func WithFanoutTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fanoutTimeout = d
	}
}

// WithHealthThreshold sets how many consecutive failed probes mark a backend
// unhealthy. Default: 3.
func WithHealthThreshold(n int) Option {
	return func(o *options) {
		o.healthThreshold = n
	}
}

// WithHealthInterval makes Build start a health monitor that refreshes
// routing status every d. The monitor stops when the coordinator closes.
// Zero, the default, starts none.
func WithHealthInterval(d time.Duration) Option {
	return func(o *options) {
		o.healthInterval = d
	}
}

// Collection describes a materialized result set cached under "{kind}#{name}".
type Collection struct {
	Kind   string
	Name   string
	Filter backend.Filter
	TTL    time.Duration
}

// Builder assembles a Coordinator. Methods record configuration and never
// fail; problems are reported together by Build.
//
// Role precedence defaults to class order (see router.go) with declaration
// order breaking ties. WithPreferences replaces it for one role.
type Builder struct {
	opts        options
	backends    map[string]backend.Backend
	order       []string
	roles       map[backend.Role][]string
	prefs       map[backend.Role][]string
	ttls        map[string]time.Duration
	collections []Collection
	errs        []error
}

// NewBuilder starts a builder with the given ambient options.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		opts: options{
			healthThreshold: DefaultHealthThreshold,
		},
		backends: make(map[string]backend.Backend),
		roles:    make(map[backend.Role][]string),
		prefs:    make(map[backend.Role][]string),
		ttls:     DefaultKindTTLs(),
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}

// WithRecordBackend declares be for the record role.
func (b *Builder) WithRecordBackend(be backend.Backend) *Builder {
	return b.WithBackend(be, backend.RoleRecord)
}

// WithCacheBackend declares be for the cache role.
func (b *Builder) WithCacheBackend(be backend.Backend) *Builder {
	return b.WithBackend(be, backend.RoleCache)
}

// WithSearchBackend declares be for the search role.
func (b *Builder) WithSearchBackend(be backend.Backend) *Builder {
	return b.WithBackend(be, backend.RoleSearch)
}

// WithBackend declares be for roles. With no roles, be serves every role its
// capabilities include. Declaring the same instance again adds roles.
func (b *Builder) WithBackend(be backend.Backend, roles ...backend.Role) *Builder {
	if be == nil {
		b.errs = append(b.errs, errors.New("nil backend"))
		return b
	}
	name := be.Name()
	if err := record.ValidateName("backend name", name); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if existing, ok := b.backends[name]; ok && existing != be {
		b.errs = append(b.errs, fmt.Errorf("backend %q declared twice with different adapters", name))
		return b
	}
	if _, ok := b.backends[name]; !ok {
		b.backends[name] = be
		b.order = append(b.order, name)
	}

	if len(roles) == 0 {
		for _, r := range backend.Roles {
			if be.Capabilities().Has(r) {
				roles = append(roles, r)
			}
		}
	}
	for _, r := range roles {
		if !slices.Contains(b.roles[r], name) {
			b.roles[r] = append(b.roles[r], name)
		}
	}
	return b
}

// WithPreferences sets an explicit precedence list for role. Every name must
// be a declared backend able to serve role. Memory is always the final
// fallback and need not be listed.
func (b *Builder) WithPreferences(role backend.Role, names ...string) *Builder {
	b.prefs[role] = append([]string(nil), names...)
	return b
}

// WithKindCacheTTL overrides the single-record cache TTL for kind.
// ttl <= 0 disables expiry.
func (b *Builder) WithKindCacheTTL(kind string, ttl time.Duration) *Builder {
	if err := record.ValidateName("kind", kind); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.ttls[kind] = ttl
	return b
}

// WithCollection registers a materialized collection. ttl <= 0 uses
// DefaultCollectionTTL.
func (b *Builder) WithCollection(kind, name string, filter backend.Filter, ttl time.Duration) *Builder {
	if err := record.ValidateName("kind", kind); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if err := record.ValidateName("collection name", name); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	for _, c := range b.collections {
		if c.Kind == kind && c.Name == name {
			b.errs = append(b.errs, fmt.Errorf("collection %s registered twice", record.CollectionKey(kind, name)))
			return b
		}
	}
	if ttl <= 0 {
		ttl = DefaultCollectionTTL
	}
	b.collections = append(b.collections, Collection{Kind: kind, Name: name, Filter: filter, TTL: ttl})
	return b
}

// Build validates the configuration, initializes every backend in parallel
// and returns the coordinator. Backends that fail to initialize are marked
// unhealthy; Build fails only when the configuration is invalid or the
// memory fallback cannot start.
func (b *Builder) Build(ctx context.Context) (*Coordinator, error) {
	opts := b.opts
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	if opts.meterProvider == nil {
		opts.meterProvider = otel.GetMeterProvider()
	}
	if opts.memory == nil {
		opts.memory = memory.New()
	}
	if opts.ids == nil {
		opts.ids = UUIDv7Generator{}
	}
	if opts.healthThreshold <= 0 {
		opts.healthThreshold = DefaultHealthThreshold
	}

	if err := b.validate(opts.memory); err != nil {
		return nil, &backend.Error{Code: backend.CodeInvalid, Op: "build", Err: err}
	}

	metrics, err := newInstruments(opts.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	c := newCoordinator(opts, metrics)
	for _, name := range b.order {
		c.addMember(b.backends[name])
	}
	c.fallback = c.addMember(opts.memory)

	for _, role := range backend.Roles {
		c.routes[role] = c.resolveRoute(role, b.roles[role], b.prefs[role])
	}
	for kind, ttl := range b.ttls {
		c.ttls[kind] = ttl
	}
	for _, col := range b.collections {
		c.collections[col.Kind] = append(c.collections[col.Kind], col)
		c.collectionLocks[col.Kind] = &sync.Mutex{}
	}

	if err := c.initialize(ctx); err != nil {
		return nil, err
	}
	c.StartHealthMonitor(context.WithoutCancel(ctx), opts.healthInterval)
	return c, nil
}

func (b *Builder) validate(fallback *memory.Backend) error {
	errs := append([]error(nil), b.errs...)

	if existing, ok := b.backends[fallback.Name()]; ok && existing != backend.Backend(fallback) {
		errs = append(errs, fmt.Errorf("backend name %q is reserved for the memory fallback", fallback.Name()))
	}

	for _, role := range backend.Roles {
		for _, name := range b.roles[role] {
			if err := canServe(b.backends[name], role); err != nil {
				errs = append(errs, err)
			}
		}
		for _, name := range b.prefs[role] {
			be, ok := b.backends[name]
			if !ok {
				errs = append(errs, fmt.Errorf("%s preference references undeclared backend %q", role, name))
				continue
			}
			if err := canServe(be, role); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// canServe checks both the declared capability and the Go interface.
func canServe(be backend.Backend, role backend.Role) error {
	if !be.Capabilities().Has(role) {
		return fmt.Errorf("backend %q does not declare the %s capability", be.Name(), role)
	}
	var ok bool
	switch role {
	case backend.RoleRecord:
		_, ok = be.(backend.RecordStore)
	case backend.RoleCache:
		_, ok = be.(backend.Cache)
	case backend.RoleSearch:
		_, ok = be.(backend.SearchIndex)
	}
	if !ok {
		return fmt.Errorf("backend %q declares %s but does not implement it", be.Name(), role)
	}
	return nil
}
