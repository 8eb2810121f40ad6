// Package command provides the shell-command stage body.
//
// A command template references $input, $inputs, $output and $dir plus any
// named pipeline variable. The body expands the template against the stage
// context, records it in the output directory's command log and the unclean
// marker, registers the declared outputs for fingerprinting, and runs it
// through the configured shell.
package command
