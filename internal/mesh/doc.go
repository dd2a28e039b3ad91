// Package mesh runs agent handlers against a remote task queue.
//
// A Manager starts one poller per registered agent type. A poller only asks
// the queue for work while its type has spare capacity in the admission gate;
// each admitted task runs on its own goroutine with a fresh handler, and its
// outcome is submitted back with bounded retries. Progress steps emitted by a
// handler are pushed to the queue as they happen and repeated in the final
// submission.
//
// Shutdown is cooperative: cancelling the context passed to Run stops the
// pollers at once, while tasks already admitted run to completion.
package mesh
