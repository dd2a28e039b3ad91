// Package task defines the data that flows between the remote queue, the mesh
// manager, and agent handlers.
//
// A Task is created when a poller receives work from the queue. It is owned by
// exactly one executor, which produces an Outcome (finished or failed) plus the
// ordered Events emitted along the way. The Outcome is handed to the reporter
// and is not retained locally afterwards.
//
// Record is the queue-side view returned by query-task; it is what an external
// caller polling minutes later observes.
package task
