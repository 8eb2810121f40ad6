// Package logs reads the per-run JSON log files written during pipeline
// execution.
//
// Each run tees its structured log into <log_dir>/runs/<run-id>.log. Read
// parses those lines back into entries that the CLI can filter by stage or
// level and trim to the most recent lines.
package logs
