// Package metadata validates test annotations against the metadata schema
// before any selection runs.
//
// Unannotated items are exempt. Any annotated item that fails the schema
// aborts the whole run.
package metadata
