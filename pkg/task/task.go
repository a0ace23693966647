package task

import (
	"context"
	"time"
)

// Priority orders tasks in the pending queue
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the dispatch rank of a priority (lower dispatches first).
// Unknown priorities rank with medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether p is one of the recognized priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Status is the lifecycle position of a task inside a scheduler
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if the status is terminal
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Task is one executable unit of work
type Task struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params,omitempty"`
	Priority    Priority       `json:"priority"`
	Timeout     time.Duration  `json:"timeout"`
	MaxRetries  int            `json:"max_retries"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	BackoffBase time.Duration  `json:"backoff_base,omitempty"` // 0 uses the scheduler default
}

// Attempts returns the number of attempts the executor makes for this task
func (t Task) Attempts() int {
	if t.MaxRetries < 1 {
		return 1
	}
	return t.MaxRetries
}

// Result is the immutable outcome of executing a task
type Result struct {
	TaskID   string        `json:"task_id"`
	Success  bool          `json:"success"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Cost     float64       `json:"cost"`
	Attempts int           `json:"attempts"`
	WorkerID string        `json:"worker_id,omitempty"`
}

// Output is what a handler produces for a successful attempt
type Output struct {
	Value any
	Cost  float64
}

// Handler runs the body of a task. It is the injected capability the
// executor drives; implementations should honor ctx cancellation.
type Handler interface {
	Handle(ctx context.Context, t Task) (Output, error)
}

// HandlerFunc adapts a plain function to Handler
type HandlerFunc func(ctx context.Context, t Task) (Output, error)

// Handle calls f(ctx, t)
func (f HandlerFunc) Handle(ctx context.Context, t Task) (Output, error) {
	return f(ctx, t)
}
