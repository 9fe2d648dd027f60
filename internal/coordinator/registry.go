package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"yqhp/test-scheduler/pkg/types"
)

// InMemoryWorkerRegistry implements WorkerRegistry using in-memory storage.
type InMemoryWorkerRegistry struct {
	workers map[string]*types.WorkerInfo
	status  map[string]*types.WorkerStatus
	nextSeq int

	now func() time.Time
	mu  sync.RWMutex
}

// NewInMemoryWorkerRegistry creates a new in-memory worker registry.
func NewInMemoryWorkerRegistry() *InMemoryWorkerRegistry {
	return &InMemoryWorkerRegistry{
		workers: make(map[string]*types.WorkerInfo),
		status:  make(map[string]*types.WorkerStatus),
		now:     time.Now,
	}
}

// Register registers a new worker.
func (r *InMemoryWorkerRegistry) Register(ctx context.Context, worker *types.WorkerInfo) (*types.WorkerInfo, error) {
	if worker == nil {
		return nil, fmt.Errorf("worker cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if worker.ID == "" {
		worker.ID = uuid.New().String()
	}
	if _, exists := r.workers[worker.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrWorkerExists, worker.ID)
	}

	now := r.now()
	worker.Seq = r.nextSeq
	worker.RegisteredAt = now
	r.nextSeq++

	r.workers[worker.ID] = worker
	r.status[worker.ID] = &types.WorkerStatus{
		State:    types.WorkerStateOnline,
		LastSeen: now,
	}

	return worker, nil
}

// Unregister unregisters a worker.
func (r *InMemoryWorkerRegistry) Unregister(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[workerID]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}

	delete(r.workers, workerID)
	delete(r.status, workerID)
	return nil
}

// GetWorkerStatus returns a copy of a worker's current status.
func (r *InMemoryWorkerRegistry) GetWorkerStatus(ctx context.Context, workerID string) (*types.WorkerStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, exists := r.status[workerID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	s := *status
	return &s, nil
}

// ListWorkers lists all workers matching the filter, in registration order.
func (r *InMemoryWorkerRegistry) ListWorkers(ctx context.Context, filter *WorkerFilter) ([]*types.WorkerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*types.WorkerInfo, 0, len(r.workers))
	for id, worker := range r.workers {
		if filter != nil && !r.matchesFilter(id, worker, filter) {
			continue
		}
		result = append(result, worker)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

// matchesFilter checks if a worker matches the given filter.
func (r *InMemoryWorkerRegistry) matchesFilter(workerID string, worker *types.WorkerInfo, filter *WorkerFilter) bool {
	if len(filter.States) > 0 {
		status := r.status[workerID]
		if status == nil {
			return false
		}
		found := false
		for _, s := range filter.States {
			if status.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for key, value := range filter.Labels {
		if v, ok := worker.Labels[key]; !ok || v != value {
			return false
		}
	}

	return true
}

// UpdateHeartbeat updates the last seen time for a worker.
func (r *InMemoryWorkerRegistry) UpdateHeartbeat(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, exists := r.status[workerID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}

	status.LastSeen = r.now()
	if status.State == types.WorkerStateStalled {
		status.State = types.WorkerStateOnline
	}
	return nil
}

// MarkStalled marks a worker as stalled.
func (r *InMemoryWorkerRegistry) MarkStalled(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, exists := r.status[workerID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	status.State = types.WorkerStateStalled
	return nil
}
