// Package outputs infers which files a stage produced.
//
// A Snapshot of the output directory is taken before a stage body runs. After
// the body returns, Changed diffs the directory against the snapshot (newly
// created files first, otherwise files with newer timestamps) and Forward picks
// the paths that become the next stage's inputs. Timestamps and explicit
// declarations are the only signals; file contents are never read.
package outputs
