// Package builtins provides the agent handler kinds that can be registered
// from configuration.
//
// Each entry under agents selects a kind and passes it free-form options:
//
//   - echo: waits a random delay between min_delay and max_delay, then
//     returns the query unchanged.
//   - composable_echo: delegates the query to another agent type (target,
//     default EchoAgent) through the mesh, relays its steps as progress, and
//     prefixes the answer.
//   - anthropic: a single-turn Claude call on the query.
//   - openai: a single-turn chat completion on the query.
//
// The LLM kinds read api_key from their options at construction time. An
// empty key fails every task of that type without affecting other types.
//
// Register builds factories for every configured agent:
//
//	builtins.Register(registry, cfg.Agents, builtins.Deps{Mesh: client, Logger: logger})
package builtins
