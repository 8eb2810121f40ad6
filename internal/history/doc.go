// Package history records pipeline runs and stage lifecycle events in SQLite.
//
// Store implements notifications.Notifier so it can be attached to a run's
// fanout like any other listener. Events are keyed by the run ID carried on
// the context.
package history
