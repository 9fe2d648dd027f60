package coordinator

import (
	"context"

	"yqhp/test-scheduler/pkg/types"
)

// WorkerRegistry manages worker registration and status.
type WorkerRegistry interface {
	// Register stores a worker, assigning an ID when empty and a registration sequence.
	Register(ctx context.Context, worker *types.WorkerInfo) (*types.WorkerInfo, error)

	// Unregister removes a worker.
	Unregister(ctx context.Context, workerID string) error

	// GetWorkerStatus returns a worker's current status.
	GetWorkerStatus(ctx context.Context, workerID string) (*types.WorkerStatus, error)

	// ListWorkers lists workers matching the filter in registration order.
	ListWorkers(ctx context.Context, filter *WorkerFilter) ([]*types.WorkerInfo, error)

	// UpdateHeartbeat records a sign of life and brings a stalled worker back online.
	UpdateHeartbeat(ctx context.Context, workerID string) error

	// MarkStalled flags a worker that missed its liveness deadline.
	MarkStalled(ctx context.Context, workerID string) error
}

// WorkerFilter defines worker filtering criteria.
type WorkerFilter struct {
	States []types.WorkerState // Filter by state
	Labels map[string]string   // Filter by labels
}

// Scheduler is the worker-facing side of the scope scheduler.
type Scheduler interface {
	// Collect hands the final selected items to the scheduler. Allowed once.
	Collect(ctx context.Context, items []*types.Item) error

	// Register adds a worker to the pool.
	Register(ctx context.Context, worker *types.WorkerInfo) (*types.WorkerInfo, error)

	// ReportCapacity sets how many scopes a worker holds at once and
	// returns the slots still free after scheduling.
	ReportCapacity(ctx context.Context, workerID string, slots int) (int, error)

	// NextAssignment waits for the next scope assigned to a worker.
	NextAssignment(ctx context.Context, workerID string) (*types.Assignment, error)

	// ReportCompletion marks a worker's scope as finished.
	ReportCompletion(ctx context.Context, workerID string, scope string) error

	// Heartbeat records liveness and reports whether the worker should stop.
	Heartbeat(ctx context.Context, workerID string) (bool, error)

	// Disconnect removes a worker, failing its outstanding scopes.
	Disconnect(ctx context.Context, workerID string) error

	// Snapshot returns the current scheduling state.
	Snapshot() *types.SchedulerSnapshot

	// Workers returns the active workers matching filter, in registration order.
	Workers(ctx context.Context, filter *WorkerFilter) ([]types.WorkerSnapshot, error)

	// Watch streams scheduler events until ctx ends.
	Watch(ctx context.Context) (<-chan *types.SchedulerEvent, error)
}
