// Package config handles configuration loading for mesh-manager and mesh-queue.
//
// # Overview
//
// Configuration is loaded from YAML files, or TOML files when the path ends in
// .toml, with environment variable expansion, defaults, and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MESH_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mesh/manager.yaml (queue: mesh/queue.yaml)
//  3. ~/.config/mesh/manager.yaml
//
// # Environment Variable Expansion
//
//	remote:
//	  token: "${MESH_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax ("500ms", "30s", "5m").
//
// # Manager sections
//
//	remote:    queue transport (http|grpc), address, token, rate limit, breaker
//	manager:   poll_interval, drain_timeout, submit retry policy
//	agents:    [{id, kind, max_concurrency, options, description, metadata}]
//	server:    http_addr (status, health, metrics, direct requests)
//	logging:   level, format (text|json), output (stdout|stderr|path)
//	metrics:   enabled, path
//	tracing:   enabled, service_name
//
// # Queue sections
//
//	server:    http_addr, grpc_addr
//	database:  path (":memory:" for the in-process store)
//	auth:      jwt_secret (32+ bytes; empty disables auth)
//	expiry:    task_timeout, sweep_schedule (cron spec)
//	dedupe:    ttl, max_size
//	logging:   level, format, output
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath("manager.yaml"))
package config
