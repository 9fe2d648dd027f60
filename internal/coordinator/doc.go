// Package coordinator implements the scope scheduler that distributes the
// selected test items across a pool of workers.
//
// Items are grouped into scopes, and each scope is assigned as one unit to
// the least loaded worker. The coordinator tracks worker registration,
// liveness, completion and failure, and emits events for the run
// orchestration layer.
package coordinator
