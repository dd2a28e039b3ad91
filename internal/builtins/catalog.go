// ABOUTME: Maps configured agent kinds to handler factories and registers them
// ABOUTME: Option errors surface at startup; key errors surface per task

package builtins

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/config"
)

// Handler kinds accepted in agent configuration.
const (
	KindEcho           = "echo"
	KindComposableEcho = "composable_echo"
	KindAnthropic      = "anthropic"
	KindOpenAI         = "openai"
)

// ErrUnknownKind is returned for an agent config naming no known kind.
var ErrUnknownKind = errors.New("unknown agent kind")

// Kinds lists the accepted handler kinds.
func Kinds() []string {
	return []string{KindEcho, KindComposableEcho, KindAnthropic, KindOpenAI}
}

// Deps carries what some kinds need beyond their options.
type Deps struct {
	Mesh   MeshClient // required by composable_echo
	Logger *slog.Logger
}

// NewFactory builds the factory for one configured agent.
func NewFactory(cfg config.AgentConfig, deps Deps) (agent.Factory, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	opts := options(cfg.Options)
	logger := deps.Logger.With("component", "builtins", "agent_type", cfg.ID)

	switch cfg.Kind {
	case KindEcho:
		return newEchoFactory(opts)
	case KindComposableEcho:
		return newComposableFactory(opts, deps.Mesh, logger)
	case KindAnthropic:
		return newAnthropicFactory(opts)
	case KindOpenAI:
		return newOpenAIFactory(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// Register adds every configured agent to reg.
func Register(reg *agent.Registry, agents []config.AgentConfig, deps Deps) error {
	for _, a := range agents {
		factory, err := NewFactory(a, deps)
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
		if err := reg.Register(a.ID, factory, a.MaxConcurrency); err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
	}
	return nil
}
