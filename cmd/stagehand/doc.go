// Package main hosts the stagehand CLI entrypoint and command graph.
//
// The Cobra-based command tree loads configuration, runs pipeline files,
// inspects run history and output fingerprint records, and scaffolds a
// sample configuration. Engine behaviour lives in the internal packages;
// commands here only wire collaborators together and render results.
package main
