// Package agent defines the handler contract and the registry of agent types.
//
// # Overview
//
// An agent type is a named kind of work ("EchoAgent", "DeepResearchAgent")
// with a handler factory and a maximum number of tasks that may run at once.
// The mesh manager builds one fresh Handler per task through the Factory, so
// handler instances never share state across tasks.
//
// # Registry
//
//	reg := agent.NewRegistry(logger)
//	err := reg.Register("EchoAgent", factory, 5)
//
// Register fails with:
//
//   - ErrEmptyID when the ID is empty
//   - ErrNilFactory when the factory is nil
//   - ErrInvalidConcurrency when max concurrency is not positive
//   - ErrAgentAlreadyRegistered when the ID is taken
//   - ErrRegistryFrozen once the manager has been constructed
//
// The registry is frozen by mesh.New; there is no hot reload.
//
// # Handler lifecycle
//
//  1. Factory() builds the handler (an error fails the task)
//  2. Handle(ctx, req, progress) runs the work
//  3. Close(ctx) always runs afterwards
package agent
