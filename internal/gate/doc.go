// Package gate implements admission control for the mesh manager.
//
// # Overview
//
// A Gate holds one counter per registered agent type. Each counter enforces
//
//	0 <= in_flight <= capacity
//
// at every instant. Counters are plain atomics updated with compare-and-swap,
// so TryAcquire and Release are safe to call from any number of pollers and
// executors without a lock.
//
// # Scoped acquisition
//
// Executors should use Acquire, which returns a Permit:
//
//	permit, ok := g.Acquire("EchoAgent")
//	if !ok {
//	    return // no capacity
//	}
//	defer permit.Release()
//
// Permit.Release is idempotent, so the executor can release early on the
// normal path and still rely on the deferred call for panics.
//
// # Invariant violations
//
// Releasing a counter that is already zero means some code path released
// twice. That is a programming error and Release panics rather than letting the
// counter go negative and silently over-admit.
//
// # Status
//
// Snapshot reads every counter on demand. Nothing is cached.
package gate
