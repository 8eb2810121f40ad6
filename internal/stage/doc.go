// Package stage runs one pipeline stage through its lifecycle.
//
// A Definition is the shared, immutable description of a stage: its name and
// body. Each invocation wraps the definition in a Stage with its own Context,
// so one definition can run concurrently in several branches. The Runner
// snapshots the output directory, executes the body, infers which files the
// body produced, rolls back on failure, persists output fingerprints, and
// signals STARTED/FAILED/COMPLETED events along the way.
package stage
