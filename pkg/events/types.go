package events

import (
	"time"

	"github.com/harun/orchestra/pkg/plan"
	"github.com/harun/orchestra/pkg/task"
)

// Kind names an event type
type Kind string

const (
	KindStart                 Kind = "start"
	KindWorkerSpawned         Kind = "workerSpawned"
	KindWorkerRemoved         Kind = "workerRemoved"
	KindTaskStart             Kind = "taskStart"
	KindTaskRetry             Kind = "taskRetry"
	KindTaskComplete          Kind = "taskComplete"
	KindPlanStart             Kind = "planStart"
	KindPlanComplete          Kind = "planComplete"
	KindPlanFailed            Kind = "planFailed"
	KindPhaseStart            Kind = "phaseStart"
	KindPhaseComplete         Kind = "phaseComplete"
	KindPhaseDependencyFailed Kind = "phaseDependencyFailed"
	KindCheckpoint            Kind = "checkpoint"
	KindHumanRequired         Kind = "humanRequired"
)

// Kinds lists every event kind the engine emits
var Kinds = []Kind{
	KindStart, KindWorkerSpawned, KindWorkerRemoved,
	KindTaskStart, KindTaskRetry, KindTaskComplete,
	KindPlanStart, KindPlanComplete, KindPlanFailed,
	KindPhaseStart, KindPhaseComplete, KindPhaseDependencyFailed,
	KindCheckpoint, KindHumanRequired,
}

// Event is implemented only by the event types of this package.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
	isEvent()
}

// Meta carries the emission time; embed it in every event type.
type Meta struct {
	At time.Time `json:"at"`
}

// Timestamp returns when the event occurred
func (m Meta) Timestamp() time.Time { return m.At }

func (Meta) isEvent() {}

func now() Meta { return Meta{At: time.Now()} }

// Start is emitted when the scheduler driver begins a pass over its queue.
type Start struct {
	Meta
	TotalTasks int `json:"total_tasks"`
}

func (Start) Kind() Kind { return KindStart }

// NewStart creates a Start event
func NewStart(total int) Start { return Start{Meta: now(), TotalTasks: total} }

// WorkerSpawned is emitted when the pool grows.
type WorkerSpawned struct {
	Meta
	WorkerID string `json:"worker_id"`
}

func (WorkerSpawned) Kind() Kind { return KindWorkerSpawned }

// NewWorkerSpawned creates a WorkerSpawned event
func NewWorkerSpawned(workerID string) WorkerSpawned {
	return WorkerSpawned{Meta: now(), WorkerID: workerID}
}

// WorkerRemoved is emitted when the pool shrinks.
type WorkerRemoved struct {
	Meta
	WorkerID string `json:"worker_id"`
}

func (WorkerRemoved) Kind() Kind { return KindWorkerRemoved }

// NewWorkerRemoved creates a WorkerRemoved event
func NewWorkerRemoved(workerID string) WorkerRemoved {
	return WorkerRemoved{Meta: now(), WorkerID: workerID}
}

// TaskStart is emitted at the start of every attempt.
type TaskStart struct {
	Meta
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
	Attempt  int    `json:"attempt"`
}

func (TaskStart) Kind() Kind { return KindTaskStart }

// NewTaskStart creates a TaskStart event
func NewTaskStart(taskID, workerID string, attempt int) TaskStart {
	return TaskStart{Meta: now(), TaskID: taskID, WorkerID: workerID, Attempt: attempt}
}

// TaskRetry is emitted after a failed attempt that will be retried.
type TaskRetry struct {
	Meta
	TaskID  string `json:"task_id"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

func (TaskRetry) Kind() Kind { return KindTaskRetry }

// NewTaskRetry creates a TaskRetry event
func NewTaskRetry(taskID string, attempt int, errMsg string) TaskRetry {
	return TaskRetry{Meta: now(), TaskID: taskID, Attempt: attempt, Error: errMsg}
}

// TaskComplete carries the terminal result of a task.
type TaskComplete struct {
	Meta
	Result task.Result `json:"result"`
}

func (TaskComplete) Kind() Kind { return KindTaskComplete }

// NewTaskComplete creates a TaskComplete event
func NewTaskComplete(result task.Result) TaskComplete {
	return TaskComplete{Meta: now(), Result: result}
}

// PlanStart is emitted when a plan run begins.
type PlanStart struct {
	Meta
	Plan  *plan.ExecutionPlan  `json:"plan"`
	State *plan.ExecutionState `json:"state"`
}

func (PlanStart) Kind() Kind { return KindPlanStart }

// NewPlanStart creates a PlanStart event
func NewPlanStart(p *plan.ExecutionPlan, state *plan.ExecutionState) PlanStart {
	return PlanStart{Meta: now(), Plan: p, State: state}
}

// PlanComplete is emitted when every phase has been processed without a critical failure.
type PlanComplete struct {
	Meta
	Plan  *plan.ExecutionPlan  `json:"plan"`
	State *plan.ExecutionState `json:"state"`
}

func (PlanComplete) Kind() Kind { return KindPlanComplete }

// NewPlanComplete creates a PlanComplete event
func NewPlanComplete(p *plan.ExecutionPlan, state *plan.ExecutionState) PlanComplete {
	return PlanComplete{Meta: now(), Plan: p, State: state}
}

// PlanFailed is emitted when a run aborts.
type PlanFailed struct {
	Meta
	Plan   *plan.ExecutionPlan  `json:"plan"`
	State  *plan.ExecutionState `json:"state"`
	Reason string               `json:"reason"`
}

func (PlanFailed) Kind() Kind { return KindPlanFailed }

// NewPlanFailed creates a PlanFailed event
func NewPlanFailed(p *plan.ExecutionPlan, state *plan.ExecutionState, reason string) PlanFailed {
	return PlanFailed{Meta: now(), Plan: p, State: state, Reason: reason}
}

// PhaseStart is emitted before a phase's steps are dispatched.
type PhaseStart struct {
	Meta
	Phase plan.Phase `json:"phase"`
	Index int        `json:"index"`
}

func (PhaseStart) Kind() Kind { return KindPhaseStart }

// NewPhaseStart creates a PhaseStart event
func NewPhaseStart(phase plan.Phase, index int) PhaseStart {
	return PhaseStart{Meta: now(), Phase: phase, Index: index}
}

// PhaseComplete is emitted once a phase's outcomes are partitioned.
type PhaseComplete struct {
	Meta
	Phase     plan.Phase `json:"phase"`
	Index     int        `json:"index"`
	Completed []string   `json:"completed"`
	Failed    []string   `json:"failed"`
}

func (PhaseComplete) Kind() Kind { return KindPhaseComplete }

// NewPhaseComplete creates a PhaseComplete event
func NewPhaseComplete(phase plan.Phase, index int, completed, failed []string) PhaseComplete {
	return PhaseComplete{Meta: now(), Phase: phase, Index: index, Completed: completed, Failed: failed}
}

// PhaseDependencyFailed is emitted when a phase is skipped because a phase it
// depends on has steps outside CompletedSteps.
type PhaseDependencyFailed struct {
	Meta
	Phase     plan.Phase `json:"phase"`
	Index     int        `json:"index"`
	UnmetDeps []string   `json:"unmet_deps"`
}

func (PhaseDependencyFailed) Kind() Kind { return KindPhaseDependencyFailed }

// NewPhaseDependencyFailed creates a PhaseDependencyFailed event
func NewPhaseDependencyFailed(phase plan.Phase, index int, unmet []string) PhaseDependencyFailed {
	return PhaseDependencyFailed{Meta: now(), Phase: phase, Index: index, UnmetDeps: unmet}
}

// CheckpointCaptured carries a newly captured checkpoint.
type CheckpointCaptured struct {
	Meta
	PlanID     string          `json:"plan_id"`
	RunID      string          `json:"run_id"`
	Checkpoint plan.Checkpoint `json:"checkpoint"`
}

func (CheckpointCaptured) Kind() Kind { return KindCheckpoint }

// NewCheckpointCaptured creates a CheckpointCaptured event
func NewCheckpointCaptured(planID, runID string, cp plan.Checkpoint) CheckpointCaptured {
	return CheckpointCaptured{Meta: now(), PlanID: planID, RunID: runID, Checkpoint: cp}
}

// HumanRequired is emitted when a step's fallback hands control to a human.
type HumanRequired struct {
	Meta
	Step  plan.Step            `json:"step"`
	State *plan.ExecutionState `json:"state"`
}

func (HumanRequired) Kind() Kind { return KindHumanRequired }

// NewHumanRequired creates a HumanRequired event
func NewHumanRequired(step plan.Step, state *plan.ExecutionState) HumanRequired {
	return HumanRequired{Meta: now(), Step: step, State: state}
}
