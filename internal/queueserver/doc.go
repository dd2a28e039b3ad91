// Package queueserver is a development implementation of the remote task queue
// that mesh managers poll.
//
// It speaks the same protocol as production queues over HTTP/JSON:
//
//	POST /mesh_manager_poll    claim the oldest waiting task of a type
//	POST /mesh_manager_submit  record a result (duplicates are no-ops)
//	POST /mesh_task_update     append a reasoning step
//	POST /mesh_task_create     enqueue a task for an agent type
//	POST /mesh_task_query      read a task's status, steps, and result
//	GET  /mesh_task_events     stream a task's steps as Server-Sent Events
//
// and over gRPC as mesh.queue.v1.TaskQueue with a JSON codec.
//
// Running tasks whose result never arrives are expired by a cron-scheduled
// Sweeper. When auth.jwt_secret is set, every queue call must carry a JWT
// minted with the same secret.
package queueserver
