// Package task defines the unit of work the scheduler dispatches to workers.
//
// Invariants:
// - A Result is recorded once per task id and never mutated afterwards.
// - Priority order is critical, high, medium, low.
//
// Usage:
//
//	h := task.HandlerFunc(func(ctx context.Context, t task.Task) (task.Output, error) {
//		return task.Output{Value: "ok"}, nil
//	})
//	_ = h
package task
