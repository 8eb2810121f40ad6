// Package pipeline executes a sequence of stages for one run.
//
// A Run owns everything scoped to a single pipeline execution: its ID, the
// stage name registry, the run lock on the state directory, and the
// notifier fanout. Stages run one after another, each with a fresh
// stage.Context seeded from the previous stage's forwarded outputs. A stage
// with branches fans out after it completes: every branch runs concurrently
// in its own output subdirectory and the branch results are concatenated in
// declaration order.
package pipeline
