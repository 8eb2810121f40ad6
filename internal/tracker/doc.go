// Package tracker persists one fingerprint record per stage output.
//
// A record pairs the command that produced a file with the file path and a
// fingerprint derived from both. Records are the durable basis a later run uses
// to decide whether a command needs to execute again.
package tracker
