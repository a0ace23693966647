package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for a plan run ID
	RunIDKey ContextKey = "run_id"
	// PlanIDKey is the context key for plan ID
	PlanIDKey ContextKey = "plan_id"
	// TaskIDKey is the context key for task ID
	TaskIDKey ContextKey = "task_id"
	// WorkerIDKey is the context key for worker ID
	WorkerIDKey ContextKey = "worker_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID  string
	RunID    string
	PlanID   string
	TaskID   string
	WorkerID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a plan run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithPlanID adds a plan ID to the context
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, PlanIDKey, planID)
}

// WithTaskID adds a task ID to the context
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// WithWorkerID adds a worker ID to the context
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

func getString(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey) }

// GetRunID retrieves the plan run ID from the context
func GetRunID(ctx context.Context) string { return getString(ctx, RunIDKey) }

// GetPlanID retrieves the plan ID from the context
func GetPlanID(ctx context.Context) string { return getString(ctx, PlanIDKey) }

// GetTaskID retrieves the task ID from the context
func GetTaskID(ctx context.Context) string { return getString(ctx, TaskIDKey) }

// GetWorkerID retrieves the worker ID from the context
func GetWorkerID(ctx context.Context) string { return getString(ctx, WorkerIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:  GetTraceID(ctx),
		RunID:    GetRunID(ctx),
		PlanID:   GetPlanID(ctx),
		TaskID:   GetTaskID(ctx),
		WorkerID: GetWorkerID(ctx),
	}
}

// NewPlanRunContext creates a context for a plan run, starting a trace if none exists
func NewPlanRunContext(ctx context.Context, planID, runID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithPlanID(ctx, planID)
	return WithRunID(ctx, runID)
}
