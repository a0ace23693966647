// Package plan holds the execution plan model consumed by the runner: phases,
// step templates, fallback strategies, the mutable ExecutionState and the
// immutable Checkpoints captured along the way.
//
// Invariants:
// - Phase ids and step ids are unique within a plan.
// - Checkpoints are append-only and never mutated after capture.
//
// Usage:
//
//	p, err := plan.NewLoader(log.Logger).LoadFile("plan.yaml")
//	if err != nil {
//		return err
//	}
//	state := plan.NewExecutionState(p.ID)
package plan
