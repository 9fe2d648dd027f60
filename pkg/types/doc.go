// Package types defines the core data structures for the test scheduler.
//
// This package contains the fundamental types shared by the selection
// engine, the scope scheduler and the REST transport, including:
//   - Test items, their raw annotations and validated metadata
//   - Playbook criteria records
//   - Worker registration and status types
//   - Work units, assignments and scheduler events
package types
