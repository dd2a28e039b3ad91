// ABOUTME: Registry of agent type registrations consumed by the mesh manager at startup.
// ABOUTME: Rejects duplicates and invalid capacity, and freezes once the manager is built.

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrAgentAlreadyRegistered indicates a registration with the same ID exists.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified agent type was not registered.
var ErrAgentNotFound = errors.New("agent not found")

// ErrInvalidConcurrency indicates a non-positive max concurrency.
var ErrInvalidConcurrency = errors.New("max concurrency must be positive")

// ErrNilFactory indicates a registration without a handler factory.
var ErrNilFactory = errors.New("factory is required")

// ErrEmptyID indicates a registration without an agent type identifier.
var ErrEmptyID = errors.New("agent id is required")

// ErrRegistryFrozen indicates Register was called after the registry was frozen.
var ErrRegistryFrozen = errors.New("registry is frozen")

// Registration binds an agent type to its handler factory and capacity.
type Registration struct {
	ID             string
	Factory        Factory
	MaxConcurrency int
}

// Registry holds registrations until the manager freezes it.
type Registry struct {
	regs   map[string]Registration
	frozen bool
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		regs:   make(map[string]Registration),
		logger: logger,
	}
}

// Register adds an agent type.
func (r *Registry) Register(id string, factory Factory, maxConcurrency int) error {
	if id == "" {
		return ErrEmptyID
	}
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, id)
	}
	if maxConcurrency <= 0 {
		return fmt.Errorf("%w: %s has %d", ErrInvalidConcurrency, id, maxConcurrency)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.regs[id]; exists {
		return fmt.Errorf("%w: %s", ErrAgentAlreadyRegistered, id)
	}

	r.regs[id] = Registration{ID: id, Factory: factory, MaxConcurrency: maxConcurrency}
	r.logger.Info("agent type registered",
		"agent_type", id,
		"max_concurrency", maxConcurrency,
		"total_agents", len(r.regs),
	)
	return nil
}

// Get returns the registration for id.
func (r *Registry) Get(id string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.regs[id]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return reg, nil
}

// List returns all registrations sorted by ID.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Capacities maps each agent type to its max concurrency.
func (r *Registry) Capacities() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.regs))
	for id, reg := range r.regs {
		out[id] = reg.MaxConcurrency
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// Freeze prevents further registrations. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
