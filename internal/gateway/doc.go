// Package gateway runs a mesh manager as a long-lived process.
//
// # Overview
//
// The Gateway owns the queue client, the agent registry built from
// configuration, the mesh.Manager, and an optional HTTP server.
// Run starts everything and blocks until the context is cancelled; pollers
// stop immediately while admitted tasks are drained before the HTTP server
// and queue client are closed.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - 200 while the manager is polling
//   - GET /status - Capacity and in-flight count per agent type
//   - GET /agents - Configured agent types with description and metadata
//   - POST /mesh_request - Run one request synchronously; 404 for an unknown
//     agent, 429 when its type is at capacity
//   - GET {metrics.path} - Prometheus metrics, when enabled
//
// Status can be read from another process with FetchStatus.
package gateway
