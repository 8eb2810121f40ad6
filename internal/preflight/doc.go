// Package preflight provides readiness checks run before a pipeline starts.
//
// Directory checks are fatal: stages cannot run without a writable output
// and state directory. Missing stage programs are reported but only the
// shell is required, since commands may resolve programs the checks cannot
// see (functions, relative paths, variables).
package preflight
