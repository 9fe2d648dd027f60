package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownWorker is returned for operations on unregistered workers.
	ErrUnknownWorker = errors.New("worker not registered")

	// ErrWorkerExists is returned when a worker ID is registered twice.
	ErrWorkerExists = errors.New("worker already registered")

	// ErrUnknownScope is returned when a reported scope was never collected.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrNoMoreWork is returned once no further scope can reach a worker.
	ErrNoMoreWork = errors.New("no more work")

	// ErrCancelled is returned after the scheduling run is cancelled.
	ErrCancelled = errors.New("scheduling run cancelled")

	// ErrAlreadyCollected is returned when items are collected twice.
	ErrAlreadyCollected = errors.New("items already collected")

	// ErrInvalidSlots is returned for a non-positive slot count.
	ErrInvalidSlots = errors.New("slots must be positive")
)

// AssignmentInconsistencyError signals a broken ownership invariant, such
// as a scope owned by two workers. It indicates a defect, not a runtime
// condition to recover from.
type AssignmentInconsistencyError struct {
	Scope   string
	Owner   string // Worker currently owning the scope, if any
	Worker  string // Worker involved in the offending operation
	Message string
}

// Error implements the error interface.
func (e *AssignmentInconsistencyError) Error() string {
	return fmt.Sprintf("assignment inconsistency for scope '%s' (owner %q, worker %q): %s",
		e.Scope, e.Owner, e.Worker, e.Message)
}
