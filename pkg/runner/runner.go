package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/orchestra/internal/observability"
	"github.com/harun/orchestra/internal/tracing"
	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/plan"
	"github.com/harun/orchestra/pkg/scheduler"
	"github.com/harun/orchestra/pkg/selector"
	"github.com/harun/orchestra/pkg/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxRetries  = 3
	DefaultTaskTimeout = 5 * time.Minute

	ReasonCancelled = "cancelled"
)

// ProgressFunc receives a snapshot of the state after each processed phase.
type ProgressFunc func(state *plan.ExecutionState)

// Config holds runner configuration
type Config struct {
	// Handler executes step bodies. Steps become tasks whose Kind is the
	// step action and whose Params are the step params.
	Handler task.Handler

	// Scheduler sizes the worker pool. Its Handler, Emitter and Logger are
	// set by the runner.
	Scheduler scheduler.Config

	Emitter *events.Emitter
	Models  selector.Models

	// DefaultMaxRetries applies to steps with neither MaxRetries nor a
	// fallback MaxAttempts.
	DefaultMaxRetries int

	// DefaultTaskTimeout applies to steps of phases without a timeout.
	DefaultTaskTimeout time.Duration

	OnProgress ProgressFunc
	Logger     *zerolog.Logger
}

// Result is the outcome of ExecutePlan. Success is false only when the run
// aborted; skipped failures remain visible in State.FailedSteps.
type Result struct {
	Success  bool
	Status   plan.RunStatus
	State    *plan.ExecutionState
	Reason   string
	Duration time.Duration
}

// Runner executes plans on its own scheduler, one plan at a time.
type Runner struct {
	cfg     Config
	sched   *scheduler.Scheduler
	emitter *events.Emitter
	logger  *zerolog.Logger

	mu sync.Mutex
}

// New creates a runner and its scheduler.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		l := log.Logger
		cfg.Logger = &l
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewEmitterWithLogger(*cfg.Logger)
	}
	if cfg.DefaultMaxRetries < 1 {
		cfg.DefaultMaxRetries = DefaultMaxRetries
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = DefaultTaskTimeout
	}

	logger := cfg.Logger.With().Str("component", "runner").Logger()
	r := &Runner{
		cfg:     cfg,
		emitter: cfg.Emitter,
		logger:  &logger,
	}

	schedCfg := cfg.Scheduler
	schedCfg.Handler = task.HandlerFunc(r.dispatch)
	schedCfg.Emitter = cfg.Emitter
	schedCfg.Logger = cfg.Logger
	r.sched = scheduler.New(schedCfg)

	return r
}

// Scheduler returns the runner's scheduler, e.g. for GetStatus polling.
func (r *Runner) Scheduler() *scheduler.Scheduler {
	return r.sched
}

// Emitter returns the emitter the runner reports through.
func (r *Runner) Emitter() *events.Emitter {
	return r.emitter
}

// ExecutePlan runs p to completion or abort. A nil state starts a fresh run;
// a provided state is resumed and steps already in CompletedSteps are not
// executed again. The error is non-nil only for an invalid plan.
func (r *Runner) ExecutePlan(ctx context.Context, p *plan.ExecutionPlan, state *plan.ExecutionState) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil plan", plan.ErrInvalidPlan)
	}
	if err := plan.Validate(p); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if state == nil {
		state = plan.NewExecutionState(p.ID)
	} else if state.PlanID == "" {
		state.PlanID = p.ID
	}

	runID := state.Begin()
	ctx = tracing.NewPlanRunContext(ctx, p.ID, runID)
	ctx, span := tracing.StartSpan(
		ctx,
		tracing.TracerRunner,
		"runner.execute_plan",
		attribute.Int("plan.phases", len(p.Phases)),
		attribute.Int("plan.steps", p.StepCount()),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, *r.logger)

	rn := newRun(runID, p, state, selector.New(p.Strategy, r.cfg.Models))
	ctx = withRun(ctx, rn)

	stopTracking := r.trackRetries(rn)
	defer stopTracking()

	start := time.Now()
	logger.Info().
		Int("phases", len(p.Phases)).
		Int("steps", p.StepCount()).
		Int("completed", len(state.Snapshot().CompletedSteps)).
		Msg("Plan started")

	r.emitter.Emit(events.NewPlanStart(p, state.Snapshot()))
	observability.RecordPlanAudit(ctx, "plan_started", p.ID, "pending", map[string]interface{}{
		"run_id": runID,
		"phases": len(p.Phases),
	})

	for i, phase := range p.Phases {
		if ctx.Err() != nil {
			return r.abort(ctx, rn, start, ReasonCancelled, true), nil
		}

		state.SetPosition(i, 0)

		if unmet := unmetDependencies(p, phase, state); len(unmet) > 0 {
			logger.Warn().
				Str("phaseId", phase.ID).
				Strs("unmet", unmet).
				Msg("Phase dependencies unmet, skipping phase")
			observability.RecordPhase("skipped")
			r.emitter.Emit(events.NewPhaseDependencyFailed(phase, i, unmet))
			continue
		}

		r.emitter.Emit(events.NewPhaseStart(phase, i))
		out := r.runPhase(ctx, rn, i, phase)

		r.emitter.Emit(events.NewPhaseComplete(phase, i, out.completed, out.failed))
		logger.Info().
			Str("phaseId", phase.ID).
			Int("index", i).
			Int("completed", len(out.completed)).
			Int("failed", len(out.failed)).
			Msg("Phase processed")

		if ctx.Err() != nil {
			observability.RecordPhase("failed")
			return r.abort(ctx, rn, start, ReasonCancelled, true), nil
		}

		if len(out.critical) > 0 {
			observability.RecordPhase("failed")
			reason := fmt.Sprintf("critical failure in phase %s: %s", phase.ID, strings.Join(out.critical, ", "))
			return r.abort(ctx, rn, start, reason, !out.humanOnly), nil
		}
		observability.RecordPhase("completed")

		if p.IsCheckpoint(i) {
			cp := state.CaptureCheckpoint(i, phase.ID, lastStepID(phase))
			observability.RecordCheckpoint()
			logger.Debug().
				Str("checkpointId", cp.ID).
				Int("index", i).
				Int("completedSteps", len(cp.CompletedSteps)).
				Msg("Checkpoint captured")
			r.emitter.Emit(events.NewCheckpointCaptured(p.ID, runID, cp))
		}

		if r.cfg.OnProgress != nil {
			r.cfg.OnProgress(state.Snapshot())
		}
	}

	state.Finish(plan.RunCompleted)
	duration := time.Since(start)

	snap := state.Snapshot()
	logger.Info().
		Dur("duration", duration).
		Int("completed", len(snap.CompletedSteps)).
		Int("failed", len(snap.FailedSteps)).
		Msg("Plan completed")

	observability.RecordPlanRun(string(plan.RunCompleted), duration)
	observability.RecordPlanAudit(ctx, "plan_completed", p.ID, "success", map[string]interface{}{
		"run_id":       runID,
		"failed_steps": snap.FailedSteps,
	})
	r.emitter.Emit(events.NewPlanComplete(p, snap))

	return &Result{
		Success:  true,
		Status:   plan.RunCompleted,
		State:    state,
		Duration: duration,
	}, nil
}

// abort moves the run to Aborted. planFailed is emitted unless notify is
// false, which is the case when every critical failure is a human hand-off.
func (r *Runner) abort(ctx context.Context, rn *run, start time.Time, reason string, notify bool) *Result {
	rn.state.Finish(plan.RunAborted)
	duration := time.Since(start)

	trace.SpanFromContext(ctx).SetStatus(codes.Error, reason)

	logger := tracing.LoggerFromContext(ctx, *r.logger)
	logger.Warn().
		Str("reason", reason).
		Dur("duration", duration).
		Msg("Plan aborted")

	observability.RecordPlanRun(string(plan.RunAborted), duration)
	observability.RecordPlanAudit(ctx, "plan_aborted", rn.plan.ID, "failure", map[string]interface{}{
		"run_id": rn.state.Snapshot().RunID,
		"reason": reason,
	})

	if notify {
		r.emitter.Emit(events.NewPlanFailed(rn.plan, rn.state.Snapshot(), reason))
	}

	return &Result{
		Success:  false,
		Status:   plan.RunAborted,
		State:    rn.state,
		Reason:   reason,
		Duration: duration,
	}
}

// trackRetries counts every failed attempt of this plan's steps in
// state.RetryCount. Retry events precede the next attempt, so the selector
// sees the updated count.
func (r *Runner) trackRetries(rn *run) func() {
	offRetry := events.Subscribe(r.emitter, func(ev events.TaskRetry) {
		if st, ok := rn.stepFor(ev.TaskID); ok {
			rn.state.IncRetry(st.ID)
		}
	})
	offComplete := events.Subscribe(r.emitter, func(ev events.TaskComplete) {
		if st, ok := rn.stepFor(ev.Result.TaskID); ok && !ev.Result.Success && ev.Result.Attempts > 0 {
			rn.state.IncRetry(st.ID)
		}
	})
	return func() {
		offRetry()
		offComplete()
	}
}

// dispatch is the scheduler's handler: it selects a tier for the attempt and
// hands the task, carrying the step id, to the configured step handler.
func (r *Runner) dispatch(ctx context.Context, t task.Task) (task.Output, error) {
	if r.cfg.Handler == nil {
		return task.Output{}, scheduler.ErrNoHandler
	}

	rn := runFrom(ctx)
	if rn == nil {
		return r.cfg.Handler.Handle(ctx, t)
	}

	step, ok := rn.stepFor(t.ID)
	if !ok {
		return r.cfg.Handler.Handle(ctx, t)
	}
	t.ID = step.ID

	retries := rn.state.Retries(step.ID)
	tier := rn.selector.Select(step, retries)
	model, _ := rn.selector.Model(tier)

	ctx = WithSelection(ctx, Selection{
		PlanID:  rn.plan.ID,
		StepID:  step.ID,
		Tier:    tier,
		Model:   model,
		Retries: retries,
	})

	logger := tracing.LoggerFromContext(ctx, *r.logger)
	logger.Debug().
		Str("tier", string(tier)).
		Str("model", model).
		Int("retries", retries).
		Msg("Dispatching step")

	return r.cfg.Handler.Handle(ctx, t)
}

func unmetDependencies(p *plan.ExecutionPlan, phase plan.Phase, state *plan.ExecutionState) []string {
	var unmet []string
	for _, depID := range phase.DependsOn {
		dep := p.PhaseByID(depID)
		if dep == nil || !state.AllCompleted(dep.StepIDs()) {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}

func lastStepID(phase plan.Phase) string {
	if len(phase.Steps) == 0 {
		return ""
	}
	return phase.Steps[len(phase.Steps)-1].ID
}
