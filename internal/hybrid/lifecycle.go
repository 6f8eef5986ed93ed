package hybrid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/hybridstore/internal/backend"
)

// HealthReport is the operator view of coordinator health.
type HealthReport struct {
	// Healthy is true when at least one backend, memory included, is healthy.
	Healthy bool `json:"healthy"`

	// Backends maps backend name to its probe result.
	Backends map[string]bool `json:"backends"`
}

type monitorState struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// initialize calls Initialize on every backend in parallel. A failing backend
// is logged and marked unhealthy so routing skips it.
func (c *Coordinator) initialize(ctx context.Context) error {
	var g errgroup.Group
	for _, m := range c.order {
		g.Go(func() error {
			if err := m.Initialize(ctx); err != nil {
				m.initFailed.Store(true)
				m.setStatus(backend.StatusUnhealthy)
				c.log.Warn("backend init failed", "backend", m.Name(), "class", m.Class(), "error", err)
				return nil
			}
			m.setStatus(backend.StatusHealthy)
			c.log.Debug("backend initialized", "backend", m.Name(), "class", m.Class(), "capabilities", m.Capabilities())
			return nil
		})
	}
	_ = g.Wait()

	if c.fallback.Status() != backend.StatusHealthy {
		return &backend.Error{Code: backend.CodeUnavailable, Op: "build", Backend: c.fallback.Name(), Err: fmt.Errorf("memory fallback failed to initialize")}
	}
	return nil
}

// Health reports whether at least one backend is healthy.
func (c *Coordinator) Health(ctx context.Context) bool {
	return c.CheckHealth(ctx).Healthy
}

// CheckHealth probes every backend in parallel. It does not change routing;
// the health monitor does that.
func (c *Coordinator) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{Backends: make(map[string]bool, len(c.order))}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, m := range c.order {
		g.Go(func() error {
			ok := !c.closed.Load() && m.Status() != backend.StatusClosed && m.HealthCheck(ctx)
			mu.Lock()
			defer mu.Unlock()
			report.Backends[m.Name()] = ok
			report.Healthy = report.Healthy || ok
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// Statuses returns the routing status of every backend.
func (c *Coordinator) Statuses() map[string]backend.Status {
	out := make(map[string]backend.Status, len(c.order))
	for _, m := range c.order {
		out[m.Name()] = m.Status()
	}
	return out
}

// Backends returns backend names in declaration order, memory last.
func (c *Coordinator) Backends() []string {
	names := make([]string, len(c.order))
	for i, m := range c.order {
		names[i] = m.Name()
	}
	return names
}

// RefreshStatus runs one probe round and updates routing status.
//
// A backend whose Initialize failed is re-initialized before probing. A
// healthy backend becomes unhealthy after threshold consecutive failed
// probes; one successful probe makes it healthy again.
func (c *Coordinator) RefreshStatus(ctx context.Context) {
	if c.closed.Load() {
		return
	}

	var g errgroup.Group
	for _, m := range c.order {
		g.Go(func() error {
			c.probe(ctx, m)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) probe(ctx context.Context, m *member) {
	if m.initFailed.Load() {
		if err := m.Initialize(ctx); err != nil {
			c.log.Debug("backend init retry failed", "backend", m.Name(), "error", err)
			return
		}
		m.initFailed.Store(false)
		c.log.Info("backend initialized after retry", "backend", m.Name())
	}

	if m.HealthCheck(ctx) {
		m.failures.Store(0)
		if prev := m.setStatus(backend.StatusHealthy); prev != backend.StatusHealthy {
			c.log.Info("backend healthy", "backend", m.Name(), "previous", prev)
		}
		return
	}

	failures := m.failures.Add(1)
	c.log.Debug("health probe failed", "backend", m.Name(), "consecutive_failures", failures)
	if int(failures) >= c.threshold {
		if prev := m.setStatus(backend.StatusUnhealthy); prev != backend.StatusUnhealthy {
			c.log.Warn("backend unhealthy", "backend", m.Name(), "consecutive_failures", failures)
		}
	}
}

// demote marks m unhealthy after an operation on it failed with cause,
// provided a health check agrees. It reports whether m was demoted.
func (c *Coordinator) demote(ctx context.Context, m *member, cause error) bool {
	if ctx.Err() != nil || m.HealthCheck(ctx) {
		return false
	}
	m.failures.Store(int32(c.threshold))
	if prev := m.setStatus(backend.StatusUnhealthy); prev == backend.StatusHealthy {
		c.log.Warn("backend unhealthy", "backend", m.Name(), "error", cause)
	}
	return true
}

// StartHealthMonitor calls RefreshStatus every interval until ctx is done or
// the coordinator is closed.
func (c *Coordinator) StartHealthMonitor(ctx context.Context, interval time.Duration) {
	if c.closed.Load() || interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.monitor.mu.Lock()
	c.monitor.cancels = append(c.monitor.cancels, cancel)
	c.monitor.mu.Unlock()

	c.monitor.wg.Add(1)
	go func() {
		defer c.monitor.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RefreshStatus(ctx)
			}
		}
	}()
}

func (c *Coordinator) stopMonitors() {
	c.monitor.mu.Lock()
	for _, cancel := range c.monitor.cancels {
		cancel()
	}
	c.monitor.cancels = nil
	c.monitor.mu.Unlock()
	c.monitor.wg.Wait()
}

// Close stops health monitors and closes every backend in parallel, the
// memory fallback last. Errors are logged, never returned. Later calls on
// the coordinator fail with ErrUnavailable. Idempotent.
func (c *Coordinator) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.stopMonitors()

	var g errgroup.Group
	for _, m := range c.order {
		if m == c.fallback {
			continue
		}
		g.Go(func() error {
			c.closeMember(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	c.closeMember(ctx, c.fallback)
	return nil
}

func (c *Coordinator) closeMember(ctx context.Context, m *member) {
	if err := m.Close(ctx); err != nil {
		c.log.Warn("backend close failed", "backend", m.Name(), "error", err)
	}
	m.setStatus(backend.StatusClosed)
}
