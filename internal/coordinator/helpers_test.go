package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/test-scheduler/internal/scope"
	"yqhp/test-scheduler/pkg/types"
)

// fakeClock is a manually advanced clock shared by scheduler and registry.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupSchedulerTest(config *Config) (*ScopeScheduler, *InMemoryWorkerRegistry, *fakeClock) {
	if config == nil {
		config = DefaultConfig()
	}
	clock := newFakeClock()
	registry := NewInMemoryWorkerRegistry()
	registry.now = clock.Now
	s := NewScopeScheduler(config, scope.LoadScope, registry, zap.NewNop())
	s.now = clock.Now
	return s, registry, clock
}

// scopeItems builds n items sharing the class scope "<module>::<class>".
func scopeItems(module, class string, n int) []*types.Item {
	items := make([]*types.Item, n)
	for i := range items {
		items[i] = &types.Item{
			ID:     fmt.Sprintf("%s::%s::test_%d", module, class, i),
			Module: module,
		}
	}
	return items
}

func registerWorker(t *testing.T, s *ScopeScheduler, id string, slots int) {
	t.Helper()
	_, err := s.Register(context.Background(), &types.WorkerInfo{ID: id, Slots: slots})
	require.NoError(t, err)
}

// pollContext returns an already cancelled context so NextAssignment only
// returns what is already in the inbox.
func pollContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func assignedTo(snap *types.SchedulerSnapshot, worker string) []string {
	var out []string
	for _, w := range snap.Workers {
		if w.ID == worker {
			out = append(out, w.Outstanding...)
		}
	}
	return out
}
