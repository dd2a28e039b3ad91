// ABOUTME: Starter configuration files written by the init subcommands.
// ABOUTME: Kept next to the loaders so tests can assert they parse and validate.

package config

// StarterManagerYAML is the mesh-manager config written by `mesh-manager init`.
const StarterManagerYAML = `# mesh-manager configuration
remote:
  transport: http            # http or grpc
  url: "http://127.0.0.1:8088"
  grpc_addr: "127.0.0.1:50061"
  token: "${MESH_TOKEN}"
  timeout: "30s"
  rate_limit: 20             # requests per second, 0 = unlimited
  rate_burst: 40
  breaker:
    max_failures: 5
    open_timeout: "10s"

manager:
  poll_interval: "1s"
  drain_timeout: "0s"        # 0 waits for every in-flight task
  submit:
    max_retries: 3
    initial_interval: "500ms"
    max_interval: "5s"

agents:
  - id: EchoAgent
    kind: echo
    max_concurrency: 5
    description: Returns the query after a random delay
    metadata:
      version: "1.0"
    options:
      min_delay: "1s"
      max_delay: "4s"
  - id: ComposableEchoAgent
    kind: composable_echo
    max_concurrency: 2

server:
  http_addr: "127.0.0.1:9090"

logging:
  level: info
  format: text
  output: stdout

metrics:
  enabled: true
  path: /metrics

tracing:
  enabled: false
  exporter: stdout           # stdout or noop
  service_name: mesh-manager
`

// StarterQueueYAML is the mesh-queue config written by `mesh-queue init`.
const StarterQueueYAML = `# mesh-queue configuration
server:
  http_addr: "127.0.0.1:8088"
  grpc_addr: "127.0.0.1:50061"

database:
  path: "./mesh-queue.db"    # ":memory:" keeps tasks in process

auth:
  jwt_secret: "${MESH_JWT_SECRET}"   # empty disables auth

expiry:
  task_timeout: "10m"
  sweep_schedule: "@every 1m"

dedupe:
  ttl: "1h"
  max_size: 10000

logging:
  level: info
  format: text
`
