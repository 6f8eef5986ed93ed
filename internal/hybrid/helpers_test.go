package hybrid

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/backend/memory"
	"github.com/roach88/hybridstore/internal/record"
	"github.com/roach88/hybridstore/internal/testutil"
)

var errInjected = errors.New("injected failure")

// harness bundles a coordinator with the probes tests inspect.
type harness struct {
	c      *Coordinator
	mem    *memory.Backend
	clock  *testutil.Clock
	reader *sdkmetric.ManualReader
	logs   *syncBuffer
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newHarness builds a coordinator around a memory fallback driven by a
// manual clock. configure may declare extra backends.
func newHarness(t *testing.T, configure func(*Builder), opts ...Option) *harness {
	t.Helper()

	h := &harness{
		clock:  testutil.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		reader: sdkmetric.NewManualReader(),
		logs:   &syncBuffer{},
	}
	h.mem = memory.New(memory.WithClock(h.clock.Now))

	base := []Option{
		WithMemory(h.mem),
		WithLogger(slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))),
	}
	b := NewBuilder(append(base, opts...)...)
	if configure != nil {
		configure(b)
	}

	c, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	h.c = c
	return h
}

// counter sums the data points of an int64 counter whose attributes include
// every pair in attrs.
func (h *harness) counter(t *testing.T, name string, attrs map[string]string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if matchAttrs(dp, attrs) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func matchAttrs(dp metricdata.DataPoint[int64], attrs map[string]string) bool {
	for k, want := range attrs {
		v, ok := dp.Attributes.Value(attribute.Key(k))
		if !ok || v.AsString() != want {
			return false
		}
	}
	return true
}

func incident(id, sev string) record.Record {
	return record.New("incident", id, record.Object{"sev": record.String(sev)})
}

// stub is a memory backend presented under another name, class and
// capability set, with injectable faults.
type stub struct {
	*memory.Backend

	name  string
	class backend.Class
	caps  backend.Capabilities

	failInit    atomic.Bool
	failHealth  atomic.Bool
	failIndex   atomic.Bool
	failQuery   atomic.Bool
	failSet     atomic.Bool
	failCreate  atomic.Bool
	blockIndex  chan struct{}
	listed      chan struct{}
	blockList   chan struct{}
	initCalls   atomic.Int32
	indexCalls  atomic.Int32
	closeCalls  atomic.Int32
	onClose     func()
	createIDFor func(string) string
}

func newStub(name string, class backend.Class, caps backend.Capabilities) *stub {
	return &stub{
		Backend: memory.New(memory.WithName(name)),
		name:    name,
		class:   class,
		caps:    caps,
	}
}

func (s *stub) Name() string                       { return s.name }
func (s *stub) Class() backend.Class               { return s.class }
func (s *stub) Capabilities() backend.Capabilities { return s.caps }

func (s *stub) Initialize(ctx context.Context) error {
	s.initCalls.Add(1)
	if s.failInit.Load() {
		return errInjected
	}
	return s.Backend.Initialize(ctx)
}

func (s *stub) HealthCheck(ctx context.Context) bool {
	if s.failInit.Load() || s.failHealth.Load() {
		return false
	}
	return s.Backend.HealthCheck(ctx)
}

func (s *stub) Close(ctx context.Context) error {
	s.closeCalls.Add(1)
	if s.onClose != nil {
		s.onClose()
	}
	return s.Backend.Close(ctx)
}

func (s *stub) CreateRecord(ctx context.Context, rec record.Record) (string, error) {
	if s.failCreate.Load() {
		return "", &backend.Error{Code: backend.CodeUnavailable, Op: "create", Backend: s.name, Err: errInjected}
	}
	id, err := s.Backend.CreateRecord(ctx, rec)
	if err == nil && s.createIDFor != nil {
		return s.createIDFor(id), nil
	}
	return id, err
}

// ListRecords reads the store, then signals listed and waits on blockList
// before returning what it read.
func (s *stub) ListRecords(ctx context.Context, kind string, f backend.Filter) ([]record.Record, error) {
	recs, err := s.Backend.ListRecords(ctx, kind, f)
	if s.blockList != nil {
		s.listed <- struct{}{}
		<-s.blockList
	}
	return recs, err
}

func (s *stub) Index(ctx context.Context, kind, id, payload string) error {
	s.indexCalls.Add(1)
	if s.blockIndex != nil {
		select {
		case <-s.blockIndex:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.failIndex.Load() {
		return errInjected
	}
	return s.Backend.Index(ctx, kind, id, payload)
}

func (s *stub) Query(ctx context.Context, kind, query string) ([]backend.Hit, error) {
	if s.failQuery.Load() {
		return nil, errInjected
	}
	return s.Backend.Query(ctx, kind, query)
}

func (s *stub) Aggregate(ctx context.Context, kind, aggregation string) (record.Value, error) {
	if s.failQuery.Load() {
		return nil, errInjected
	}
	return s.Backend.Aggregate(ctx, kind, aggregation)
}

func (s *stub) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.failSet.Load() {
		return errInjected
	}
	return s.Backend.Set(ctx, key, value, ttl)
}

// livenessOnly declares roles it does not implement.
type livenessOnly struct {
	name string
	caps backend.Capabilities
}

func (l livenessOnly) Name() string                         { return l.name }
func (l livenessOnly) Class() backend.Class                 { return backend.ClassDocument }
func (l livenessOnly) Capabilities() backend.Capabilities   { return l.caps }
func (l livenessOnly) Initialize(ctx context.Context) error { return nil }
func (l livenessOnly) HealthCheck(ctx context.Context) bool { return true }
func (l livenessOnly) Close(ctx context.Context) error      { return nil }
