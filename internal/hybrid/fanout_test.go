package hybrid

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hybridstore/internal/backend"
)

func TestFanout_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	search := newStub("search", backend.ClassSearchIndex, backend.CapSearch)
	search.failIndex.Store(true)
	h := newHarness(t, func(b *Builder) { b.WithSearchBackend(search) })

	for i := 0; i < breakerFailures; i++ {
		_, err := h.c.Create(ctx, incident(fmt.Sprintf("I%d", i), "low"))
		require.NoError(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, h.c.breakers.state("search", backend.RoleSearch))
	assert.Equal(t, gobreaker.StateClosed, h.c.breakers.state("memory", backend.RoleCache))

	// While open the index is not called, but the failure is still counted.
	_, err := h.c.Create(ctx, incident("I-open", "low"))
	require.NoError(t, err)
	assert.Equal(t, int32(breakerFailures), search.indexCalls.Load())
	assert.Equal(t, int64(breakerFailures+1), h.counter(t, MetricFanoutFailures, map[string]string{"role": "search"}))

	got, err := h.c.Get(ctx, "incident", "I-open")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestFanout_CacheFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	kv := newStub("kv", backend.ClassKV, backend.CapCache)
	kv.failSet.Store(true)
	h := newHarness(t, func(b *Builder) { b.WithCacheBackend(kv) })

	_, err := h.c.Create(ctx, incident("I1", "high"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.counter(t, MetricFanoutFailures, map[string]string{"role": "cache", "backend": "kv"}))

	got, err := h.c.Get(ctx, "incident", "I1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, h.logs.String(), "cache populate failed")
}

func TestFanout_SurvivesCallerCancellation(t *testing.T) {
	search := newStub("search", backend.ClassSearchIndex, backend.CapSearch)
	search.blockIndex = make(chan struct{})
	h := newHarness(t, func(b *Builder) { b.WithSearchBackend(search) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.c.Create(ctx, incident("I1", "high"))
		done <- err
	}()

	require.Eventually(t, func() bool { return search.indexCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(search.blockIndex)

	require.NoError(t, <-done)
	assert.True(t, search.Indexed("incident", "I1"))
	assert.Zero(t, h.counter(t, MetricFanoutFailures, nil))
}

func TestFanout_CancelledBeforeWrite(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.c.Create(ctx, incident("I1", "high"))
	require.NoError(t, err)
	assert.Contains(t, h.logs.String(), "fanout continuing after caller cancellation")
	assert.True(t, h.mem.Indexed("incident", "I1"))
}

func TestFanout_Timeout(t *testing.T) {
	ctx := context.Background()
	search := newStub("search", backend.ClassSearchIndex, backend.CapSearch)
	search.blockIndex = make(chan struct{})
	h := newHarness(t, func(b *Builder) { b.WithSearchBackend(search) }, WithFanoutTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := h.c.Create(ctx, incident("I1", "high"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, int64(1), h.counter(t, MetricFanoutFailures, map[string]string{"role": "search", "backend": "search"}))
	assert.False(t, search.Indexed("incident", "I1"))

	exists, err := h.mem.Exists(ctx, "incident:I1")
	require.NoError(t, err)
	assert.True(t, exists, "other effects complete")
}

func TestFanout_Disabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, WithFanoutDisabled())

	_, err := h.c.Create(ctx, incident("I1", "high"))
	require.NoError(t, err)

	exists, err := h.mem.Exists(ctx, "incident:I1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, h.mem.Indexed("incident", "I1"))
}
