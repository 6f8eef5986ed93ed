package hybrid

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/roach88/hybridstore/internal/backend"
)

// classRank is the default precedence of backend classes per role. Lower
// ranks are tried first. Classes absent from a role's table rank after every
// listed class except memory, which always comes last.
var classRank = map[backend.Role]map[backend.Class]int{
	backend.RoleRecord: {
		backend.ClassRelational: 0,
		backend.ClassDocument:   1,
	},
	backend.RoleCache: {
		backend.ClassKV: 0,
	},
	backend.RoleSearch: {
		backend.ClassSearchIndex: 0,
		backend.ClassDocument:    1,
	},
}

const (
	rankUnlisted = 100
	rankMemory   = 200
)

func rankOf(role backend.Role, class backend.Class) int {
	if class == backend.ClassMemory {
		return rankMemory
	}
	if r, ok := classRank[role][class]; ok {
		return r
	}
	return rankUnlisted
}

// member is one backend plus the coordinator's view of its state.
type member struct {
	backend.Backend

	status     atomic.Int32
	initFailed atomic.Bool
	failures   atomic.Int32
}

func (m *member) Status() backend.Status {
	return backend.Status(m.status.Load())
}

// setStatus stores s and returns the previous status.
func (m *member) setStatus(s backend.Status) backend.Status {
	return backend.Status(m.status.Swap(int32(s)))
}

func (m *member) usable(role backend.Role) bool {
	return m.Status() == backend.StatusHealthy && m.Capabilities().Has(role)
}

// resolveRoute fixes the precedence list for role. Explicit preferences are
// used as given; otherwise declared backends are stably sorted by class
// rank. The memory fallback is appended last in both cases.
func (c *Coordinator) resolveRoute(role backend.Role, declared, prefs []string) []*member {
	names := prefs
	if len(names) == 0 {
		names = slices.Clone(declared)
		slices.SortStableFunc(names, func(a, b string) int {
			return cmp.Compare(rankOf(role, c.members[a].Class()), rankOf(role, c.members[b].Class()))
		})
	}

	route := make([]*member, 0, len(names)+1)
	for _, name := range names {
		if m := c.members[name]; m != c.fallback {
			route = append(route, m)
		}
	}
	return append(route, c.fallback)
}

// route returns the first usable backend for role. Resolution happens per
// call so a backend the health monitor recovers is used immediately.
func (c *Coordinator) route(role backend.Role) (*member, error) {
	for _, m := range c.routes[role] {
		if m.usable(role) {
			return m, nil
		}
	}
	return nil, &backend.Error{Code: backend.CodeUnavailable, Op: "route", Err: fmt.Errorf("no healthy backend for role %s", role)}
}

// Route names the backend that would serve role right now.
func (c *Coordinator) Route(role backend.Role) (string, error) {
	m, err := c.route(role)
	if err != nil {
		return "", err
	}
	return m.Name(), nil
}

// withRecordStore runs fn on the first usable record store. When the store
// fails with BACKEND_UNAVAILABLE and a health check confirms it is down, it
// is marked unhealthy and fn runs again on the next store in the route.
func (c *Coordinator) withRecordStore(ctx context.Context, fn func(store backend.RecordStore, name string) error) error {
	for {
		m, err := c.route(backend.RoleRecord)
		if err != nil {
			return err
		}
		err = fn(m.Backend.(backend.RecordStore), m.Name())
		if backend.CodeOf(err) != backend.CodeUnavailable || !c.demote(ctx, m, err) {
			return err
		}
	}
}

func (c *Coordinator) cache() (backend.Cache, string, error) {
	m, err := c.route(backend.RoleCache)
	if err != nil {
		return nil, "", err
	}
	return m.Backend.(backend.Cache), m.Name(), nil
}

func (c *Coordinator) searchIndex() (backend.SearchIndex, string, error) {
	m, err := c.route(backend.RoleSearch)
	if err != nil {
		return nil, "", err
	}
	return m.Backend.(backend.SearchIndex), m.Name(), nil
}
