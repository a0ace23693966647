package plan

import (
	"time"

	"github.com/harun/orchestra/pkg/task"
)

// ExecutionPlan is the ordered set of phases produced by a goal decomposer
type ExecutionPlan struct {
	ID                  string           `json:"id"`
	Goal                string           `json:"goal,omitempty"`
	Phases              []Phase          `json:"phases"`
	EstimatedCost       float64          `json:"estimated_cost,omitempty"`
	EstimatedDurationMs int64            `json:"estimated_duration_ms,omitempty"`
	Strategy            ResourceStrategy `json:"strategy,omitempty"`
	Checkpoints         []int            `json:"checkpoints,omitempty"` // phase indices
}

// IsCheckpoint reports whether a checkpoint must be captured after the phase at index
func (p *ExecutionPlan) IsCheckpoint(index int) bool {
	for _, c := range p.Checkpoints {
		if c == index {
			return true
		}
	}
	return false
}

// PhaseByID returns the phase with the given id, or nil
func (p *ExecutionPlan) PhaseByID(id string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return &p.Phases[i]
		}
	}
	return nil
}

// StepCount returns the number of steps across all phases
func (p *ExecutionPlan) StepCount() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Steps)
	}
	return n
}

// ResourceStrategy maps an operation class (a step action, or "default") to a
// capability tier name. "auto" means escalate with the retry count.
type ResourceStrategy map[string]string

// Phase is a named group of steps run together
type Phase struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Steps     []Step   `json:"steps"`
	Parallel  bool     `json:"parallel,omitempty"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"` // phase ids
}

// Timeout returns the phase timeout, zero when unset
func (p Phase) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// StepIDs returns the ids of the phase's steps in order
func (p Phase) StepIDs() []string {
	ids := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.ID)
	}
	return ids
}

// Step is the template a task is derived from
type Step struct {
	ID              string           `json:"id"`
	Action          string           `json:"action"`
	Params          map[string]any   `json:"params,omitempty"`
	ExpectedOutcome string           `json:"expected_outcome,omitempty"`
	Fallback        FallbackStrategy `json:"fallback"`
	MaxRetries      int              `json:"max_retries,omitempty"`
	Priority        task.Priority    `json:"priority,omitempty"`
}

// FallbackType selects what happens once a step exhausts its retries
type FallbackType string

const (
	FallbackRetry FallbackType = "retry"
	FallbackSkip  FallbackType = "skip"
	FallbackHuman FallbackType = "human"
)

// FallbackStrategy is the tagged variant retry(maxAttempts, backoffMs) |
// skip(maxAttempts, backoffMs) | human(maxAttempts).
type FallbackStrategy struct {
	Type        FallbackType `json:"type"`
	MaxAttempts int          `json:"max_attempts,omitempty"`
	BackoffMs   int64        `json:"backoff_ms,omitempty"` // ignored for human
}

// Kind returns the fallback type, defaulting to retry
func (f FallbackStrategy) Kind() FallbackType {
	if f.Type == "" {
		return FallbackRetry
	}
	return f.Type
}

// Critical reports whether a failure under this strategy aborts the plan
func (f FallbackStrategy) Critical() bool {
	return f.Kind() != FallbackSkip
}

// Backoff returns the backoff base for the strategy, zero when unset
func (f FallbackStrategy) Backoff() time.Duration {
	if f.Kind() == FallbackHuman {
		return 0
	}
	return time.Duration(f.BackoffMs) * time.Millisecond
}

// Retry builds a retry fallback
func Retry(maxAttempts int, backoffMs int64) FallbackStrategy {
	return FallbackStrategy{Type: FallbackRetry, MaxAttempts: maxAttempts, BackoffMs: backoffMs}
}

// Skip builds a skip fallback
func Skip(maxAttempts int, backoffMs int64) FallbackStrategy {
	return FallbackStrategy{Type: FallbackSkip, MaxAttempts: maxAttempts, BackoffMs: backoffMs}
}

// Human builds a human hand-off fallback
func Human(maxAttempts int) FallbackStrategy {
	return FallbackStrategy{Type: FallbackHuman, MaxAttempts: maxAttempts}
}

// Checkpoint is an immutable progress snapshot taken at a phase boundary
type Checkpoint struct {
	ID             string    `json:"id"`
	PhaseIndex     int       `json:"phase_index"`
	PhaseID        string    `json:"phase_id"`
	StepID         string    `json:"step_id,omitempty"` // last step of the phase
	Timestamp      time.Time `json:"timestamp"`
	CompletedSteps []string  `json:"completed_steps"`
}
