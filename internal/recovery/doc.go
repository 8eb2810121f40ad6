// Package recovery rolls back the outputs of a failed stage.
//
// Files that existed before the stage started are never removed, even when the
// failed execution rewrote them.
package recovery
