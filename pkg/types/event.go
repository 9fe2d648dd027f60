package types

import "time"

// SchedulerPhase is the lifecycle phase of a scheduling run.
type SchedulerPhase string

const (
	// PhaseCollecting accumulates items and waits for a worker.
	PhaseCollecting SchedulerPhase = "collecting"
	// PhaseDistributing hands out scopes while some are unassigned.
	PhaseDistributing SchedulerPhase = "distributing"
	// PhaseDraining waits for assigned scopes to complete.
	PhaseDraining SchedulerPhase = "draining"
	// PhaseDone is reached once every scope is settled.
	PhaseDone SchedulerPhase = "done"
)

// SchedulerEventType defines the type of scheduler event.
type SchedulerEventType string

const (
	SchedulerEventPhaseChanged            SchedulerEventType = "phase_changed"
	SchedulerEventWorkerRegistered        SchedulerEventType = "worker_registered"
	SchedulerEventWorkerDisconnected      SchedulerEventType = "worker_disconnected"
	SchedulerEventScopeAssigned           SchedulerEventType = "scope_assigned"
	SchedulerEventScopeCompleted          SchedulerEventType = "scope_completed"
	SchedulerEventWorkerFailure           SchedulerEventType = "worker_failure"
	SchedulerEventWorkerStalled           SchedulerEventType = "worker_stalled"
	SchedulerEventAssignmentInconsistency SchedulerEventType = "assignment_inconsistency"
	SchedulerEventCancelled               SchedulerEventType = "cancelled"
)

// SchedulerEvent is emitted by the scope scheduler.
type SchedulerEvent struct {
	Type     SchedulerEventType `json:"type"`
	Phase    SchedulerPhase     `json:"phase,omitempty"`
	WorkerID string             `json:"worker_id,omitempty"`
	Scope    string             `json:"scope,omitempty"`
	// Scopes lists the outstanding scopes lost with a failed worker.
	Scopes  []string  `json:"scopes,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// SchedulerSnapshot is a point-in-time view of a scheduling run.
type SchedulerSnapshot struct {
	Phase     SchedulerPhase    `json:"phase"`
	Pending   []string          `json:"pending"`
	Assigned  map[string]string `json:"assigned"`
	Completed []string          `json:"completed"`
	Failed    map[string]string `json:"failed"`
	Workers   []WorkerSnapshot  `json:"workers"`
	Cancelled bool              `json:"cancelled"`
}

// WorkerSnapshot is the scheduler's view of one worker.
type WorkerSnapshot struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Seq          int               `json:"seq"`
	State        WorkerState       `json:"state"`
	Slots        int               `json:"slots"`
	Outstanding  []string          `json:"outstanding"`
	Load         int               `json:"load"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeen     time.Time         `json:"last_seen"`
}
