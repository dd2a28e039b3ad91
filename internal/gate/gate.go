// ABOUTME: Per-agent-type admission counters bounding simultaneous in-flight tasks.
// ABOUTME: Lock-free acquire/release with scoped permits and on-demand status snapshots.

package gate

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrInvalidCapacity is returned when a capacity is not a positive integer.
var ErrInvalidCapacity = errors.New("capacity must be positive")

type slot struct {
	capacity int64
	inFlight atomic.Int64
}

// Gate holds one bounded counter per agent type. The set of types is fixed at
// construction; counters are the only state mutated afterwards.
type Gate struct {
	slots map[string]*slot
}

// New creates a gate from a map of agent type to maximum concurrency.
func New(capacities map[string]int) (*Gate, error) {
	g := &Gate{slots: make(map[string]*slot, len(capacities))}
	for agentType, capacity := range capacities {
		if capacity <= 0 {
			return nil, fmt.Errorf("%w: %s has %d", ErrInvalidCapacity, agentType, capacity)
		}
		g.slots[agentType] = &slot{capacity: int64(capacity)}
	}
	return g, nil
}

// TryAcquire reserves a slot for agentType if one is free.
// It never blocks and has no side effect when it returns false.
func (g *Gate) TryAcquire(agentType string) bool {
	s, ok := g.slots[agentType]
	if !ok {
		return false
	}
	for {
		cur := s.inFlight.Load()
		if cur >= s.capacity {
			return false
		}
		if s.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees a slot previously reserved with TryAcquire.
// Releasing more than was acquired is a programming error and panics.
func (g *Gate) Release(agentType string) {
	s, ok := g.slots[agentType]
	if !ok {
		panic(fmt.Sprintf("gate: release for unknown agent type %q", agentType))
	}
	for {
		cur := s.inFlight.Load()
		if cur <= 0 {
			panic(fmt.Sprintf("gate: release for %q without a matching acquire", agentType))
		}
		if s.inFlight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// HasCapacity reports whether agentType currently has a free slot.
// The answer may be stale by the time the caller acts on it.
func (g *Gate) HasCapacity(agentType string) bool {
	s, ok := g.slots[agentType]
	if !ok {
		return false
	}
	return s.inFlight.Load() < s.capacity
}

// Acquire is TryAcquire returning a Permit that releases the slot exactly once.
func (g *Gate) Acquire(agentType string) (*Permit, bool) {
	if !g.TryAcquire(agentType) {
		return nil, false
	}
	return &Permit{gate: g, agentType: agentType}, true
}

// Types returns the registered agent types in sorted order.
func (g *Gate) Types() []string {
	types := make([]string, 0, len(g.slots))
	for t := range g.slots {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Snapshot reads every counter. Each counter is read atomically; the snapshot
// as a whole is not a single consistent cut across types.
func (g *Gate) Snapshot() Snapshot {
	types := g.Types()
	snap := Snapshot{Types: make([]TypeStatus, 0, len(types))}
	for _, t := range types {
		s := g.slots[t]
		snap.Types = append(snap.Types, TypeStatus{
			AgentType: t,
			Capacity:  int(s.capacity),
			InFlight:  int(s.inFlight.Load()),
		})
	}
	return snap
}

// Permit is a scoped reservation of one gate slot.
type Permit struct {
	gate      *Gate
	agentType string
	once      sync.Once
}

// AgentType returns the agent type the permit was acquired for.
func (p *Permit) AgentType() string {
	return p.agentType
}

// Release returns the slot to the gate. Only the first call has an effect, so
// it is safe to both defer it and call it early on the normal path.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.gate.Release(p.agentType)
	})
}

// TypeStatus is the capacity and current in-flight count of one agent type.
type TypeStatus struct {
	AgentType string `json:"agent_type"`
	Capacity  int    `json:"capacity"`
	InFlight  int    `json:"in_flight"`
}

// Snapshot is a read-only view of all gate counters, sorted by agent type.
type Snapshot struct {
	Types []TypeStatus `json:"agents"`
}

// Get returns the status of one agent type.
func (s Snapshot) Get(agentType string) (TypeStatus, bool) {
	for _, ts := range s.Types {
		if ts.AgentType == agentType {
			return ts, true
		}
	}
	return TypeStatus{}, false
}

// TotalInFlight sums in-flight counts across all types.
func (s Snapshot) TotalInFlight() int {
	n := 0
	for _, ts := range s.Types {
		n += ts.InFlight
	}
	return n
}
