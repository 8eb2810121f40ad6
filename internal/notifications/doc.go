// Package notifications carries stage lifecycle events from the runner to
// external listeners.
//
// The runner only signals; consumers (console logging, the SQLite history
// store, tests) implement Notifier. Listeners must tolerate partial detail maps
// and never fail the stage that signalled them.
package notifications
