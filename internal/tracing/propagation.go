package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToTask derives the context a task attempt runs under: the trace,
// plan and run ids are kept and the task and worker ids are set.
func PropagateToTask(ctx context.Context, taskID, workerID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithTaskID(ctx, taskID)
	return WithWorkerID(ctx, workerID)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.PlanID != "" {
		lc = lc.Str("plan_id", tc.PlanID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.TaskID != "" {
		lc = lc.Str("task_id", tc.TaskID)
	}
	if tc.WorkerID != "" {
		lc = lc.Str("worker_id", tc.WorkerID)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
