// Package services defines shared utilities consumed by stage bodies and the
// pipeline runner.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and branch names for
//     logging and history records.
//   - Structured error markers plus the Wrap helper so failures carry the stage
//     and operation that produced them.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability) stays uniform across the pipeline.
package services
