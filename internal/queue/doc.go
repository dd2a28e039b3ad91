// Package queue is the client side of the remote task queue protocol.
//
// # Operations
//
//   - Poll(ctx, agentType): one task or nil when the queue is empty
//   - Submit(ctx, outcome): final result, idempotent on the queue side
//   - PushUpdate(ctx, taskID, event): progress step for a running task
//   - CreateTask(ctx, req): enqueue work for another agent type
//   - QueryTask(ctx, taskID): status, steps, and result of a task
//
// # Transports
//
// HTTPClient POSTs JSON to /mesh_manager_poll, /mesh_manager_submit,
// /mesh_task_update, /mesh_task_create and /mesh_task_query. GRPCClient calls
// the mesh.queue.v1.TaskQueue service; its messages are the same structs,
// carried by a JSON codec registered under the "json" content subtype.
//
// # Failure handling
//
// Every call passes through an optional token-bucket rate limiter and a
// circuit breaker. IsTransient classifies errors: network failures, 5xx, 429,
// an open breaker, and the equivalent gRPC codes are transient; 4xx
// rejections and undecodable replies are not.
package queue
