package plan

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the plan runner state machine position
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunAborted    RunStatus = "aborted"
)

// IsTerminal returns true if the status is terminal
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunAborted
}

// ExecutionState is the mutable progress record of a plan run. Mutate it only
// through its methods while a run is in flight; fields may be read directly
// once ExecutePlan has returned.
type ExecutionState struct {
	mu sync.Mutex

	PlanID         string         `json:"plan_id"`
	RunID          string         `json:"run_id"`
	Status         RunStatus      `json:"status"`
	CurrentPhase   int            `json:"current_phase"`
	CurrentStep    int            `json:"current_step"`
	CompletedSteps []string       `json:"completed_steps"`
	FailedSteps    []string       `json:"failed_steps"`
	RetryCount     map[string]int `json:"retry_count"`
	ResourceUsage  float64        `json:"resource_usage"`
	StartedAt      time.Time      `json:"started_at"`
	Checkpoints    []Checkpoint   `json:"checkpoints"`
}

// NewExecutionState creates an empty state for a plan
func NewExecutionState(planID string) *ExecutionState {
	return &ExecutionState{
		PlanID:         planID,
		Status:         RunNotStarted,
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		RetryCount:     make(map[string]int),
		Checkpoints:    []Checkpoint{},
	}
}

// StateFromCheckpoint seeds a state from a stored checkpoint so that a later
// run skips the steps it already completed.
func StateFromCheckpoint(planID string, cp Checkpoint) *ExecutionState {
	s := NewExecutionState(planID)
	s.CompletedSteps = append(s.CompletedSteps, cp.CompletedSteps...)
	s.CurrentPhase = cp.PhaseIndex
	s.Checkpoints = append(s.Checkpoints, cp)
	return s
}

// Begin moves the state into Running for a new run
func (s *ExecutionState) Begin() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.RunID = uuid.New().String()
	s.Status = RunRunning
	s.StartedAt = time.Now()
	if s.RetryCount == nil {
		s.RetryCount = make(map[string]int)
	}
	return s.RunID
}

// Finish records the terminal status
func (s *ExecutionState) Finish(status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

// SetPosition records the phase and step currently being processed
func (s *ExecutionState) SetPosition(phase, step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentPhase = phase
	s.CurrentStep = step
}

// MarkCompleted records a successful step. A step that previously failed is
// removed from the failed list.
func (s *ExecutionState) MarkCompleted(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !contains(s.CompletedSteps, stepID) {
		s.CompletedSteps = append(s.CompletedSteps, stepID)
	}
	s.FailedSteps = remove(s.FailedSteps, stepID)
}

// MarkFailed records a failed step
func (s *ExecutionState) MarkFailed(stepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !contains(s.FailedSteps, stepID) {
		s.FailedSteps = append(s.FailedSteps, stepID)
	}
}

// IsCompleted reports whether the step is in CompletedSteps
func (s *ExecutionState) IsCompleted(stepID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return contains(s.CompletedSteps, stepID)
}

// AllCompleted reports whether every id is in CompletedSteps
func (s *ExecutionState) AllCompleted(stepIDs []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range stepIDs {
		if !contains(s.CompletedSteps, id) {
			return false
		}
	}
	return true
}

// Retries returns the failed attempt count recorded for a step
func (s *ExecutionState) Retries(stepID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RetryCount[stepID]
}

// IncRetry increments the failed attempt count for a step and returns the new value
func (s *ExecutionState) IncRetry(stepID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RetryCount == nil {
		s.RetryCount = make(map[string]int)
	}
	s.RetryCount[stepID]++
	return s.RetryCount[stepID]
}

// AddUsage accumulates resource usage
func (s *ExecutionState) AddUsage(cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResourceUsage += cost
}

// CaptureCheckpoint appends a new checkpoint holding a copy of the completed
// step ids and returns it.
func (s *ExecutionState) CaptureCheckpoint(phaseIndex int, phaseID, stepID string) Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := Checkpoint{
		ID:             uuid.New().String(),
		PhaseIndex:     phaseIndex,
		PhaseID:        phaseID,
		StepID:         stepID,
		Timestamp:      time.Now(),
		CompletedSteps: append([]string{}, s.CompletedSteps...),
	}
	s.Checkpoints = append(s.Checkpoints, cp)
	return cp
}

// Snapshot returns a deep copy safe to hand to observers
func (s *ExecutionState) Snapshot() *ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	retries := make(map[string]int, len(s.RetryCount))
	for k, v := range s.RetryCount {
		retries[k] = v
	}

	checkpoints := make([]Checkpoint, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		cp.CompletedSteps = append([]string{}, cp.CompletedSteps...)
		checkpoints[i] = cp
	}

	return &ExecutionState{
		PlanID:         s.PlanID,
		RunID:          s.RunID,
		Status:         s.Status,
		CurrentPhase:   s.CurrentPhase,
		CurrentStep:    s.CurrentStep,
		CompletedSteps: append([]string{}, s.CompletedSteps...),
		FailedSteps:    append([]string{}, s.FailedSteps...),
		RetryCount:     retries,
		ResourceUsage:  s.ResourceUsage,
		StartedAt:      s.StartedAt,
		Checkpoints:    checkpoints,
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
