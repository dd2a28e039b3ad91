// ABOUTME: Synchronous invocation of a registered agent type outside the queue
// ABOUTME: Shares the admission gate and execution path with polled tasks

package mesh

import (
	"context"
	"errors"

	"github.com/2389/mesh-manager/internal/agent"
	"github.com/2389/mesh-manager/internal/task"
)

var (
	// ErrUnknownAgentType is returned when no registration matches.
	ErrUnknownAgentType = errors.New("unknown agent type")

	// ErrNoCapacity is returned when the agent type is saturated.
	ErrNoCapacity = errors.New("agent type at capacity")
)

// Invoke runs req on a fresh handler of its agent type and returns the
// outcome. It holds a gate slot for the duration, so direct calls and polled
// tasks share one concurrency limit. Progress steps are collected into the
// outcome and never pushed to the queue. A handler failure is a failed
// outcome, not an error.
func (m *Manager) Invoke(ctx context.Context, req agent.Request) (*task.Outcome, error) {
	reg, ok := m.registration(req.AgentType)
	if !ok {
		return nil, ErrUnknownAgentType
	}
	permit, ok := m.gate.Acquire(reg.ID)
	if !ok {
		return nil, ErrNoCapacity
	}

	t := &task.Task{
		ID:           req.TaskID,
		AgentType:    reg.ID,
		Payload:      req.Input,
		OriginTaskID: req.OriginTaskID,
		APIKey:       req.APIKey,
		ReceivedAt:   m.now(),
	}
	logger := m.logger.With("agent_type", reg.ID, "task_id", t.ID, "direct", true)
	logger.Debug("direct invocation admitted")

	o := m.runTask(ctx, permit, reg, t, newRecorder(nil, t.ID, m.now, logger), logger)
	m.metrics.RecordTask(reg.ID, o.Status, o.Latency)
	return o, nil
}

func (m *Manager) registration(agentType string) (agent.Registration, bool) {
	for _, reg := range m.regs {
		if reg.ID == agentType {
			return reg, true
		}
	}
	return agent.Registration{}, false
}
