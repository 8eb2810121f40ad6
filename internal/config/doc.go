// Package config loads, normalizes, and validates stagehand configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STAGEHAND_OUTPUT_DIR. Always obtain settings through this package so
// downstream code receives sanitized paths and clear validation errors.
package config
