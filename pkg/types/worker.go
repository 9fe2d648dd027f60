package types

import "time"

// WorkerInfo contains worker registration information.
type WorkerInfo struct {
	ID      string
	Name    string
	Address string
	Labels  map[string]string
	// Slots is the number of scopes the worker accepts at once, 0 means default.
	Slots int
	// Seq is the registration order, assigned by the registry.
	Seq          int
	RegisteredAt time.Time
}

// WorkerState represents the liveness state of a worker.
type WorkerState string

const (
	// WorkerStateOnline indicates the worker heartbeats in time.
	WorkerStateOnline WorkerState = "online"
	// WorkerStateStalled indicates the worker missed the liveness timeout.
	WorkerStateStalled WorkerState = "stalled"
	// WorkerStateOffline indicates the worker disconnected.
	WorkerStateOffline WorkerState = "offline"
)

// WorkerStatus represents the current status of a worker.
type WorkerStatus struct {
	State    WorkerState
	LastSeen time.Time
}

// WorkUnit is a scope and the items that share it.
type WorkUnit struct {
	Scope string
	Items []*Item
}

// Assignment is a work unit handed to one worker.
type Assignment struct {
	ID         string    `json:"id"`
	WorkerID   string    `json:"worker_id"`
	Scope      string    `json:"scope"`
	Items      []*Item   `json:"items"`
	AssignedAt time.Time `json:"assigned_at"`
}
