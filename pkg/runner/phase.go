package runner

import (
	"context"

	"github.com/harun/orchestra/internal/observability"
	"github.com/harun/orchestra/internal/tracing"
	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/plan"
	"github.com/harun/orchestra/pkg/task"
	"go.opentelemetry.io/otel/attribute"
)

// phaseOutcome partitions a phase's steps. critical lists failed steps whose
// fallback is not skip; humanOnly is set when all of them are human hand-offs.
type phaseOutcome struct {
	completed []string
	failed    []string
	critical  []string
	humanOnly bool
}

func (o *phaseOutcome) fail(step plan.Step) {
	o.failed = append(o.failed, step.ID)
	if !step.Fallback.Critical() {
		return
	}
	if len(o.critical) == 0 {
		o.humanOnly = true
	}
	o.critical = append(o.critical, step.ID)
	if step.Fallback.Kind() != plan.FallbackHuman {
		o.humanOnly = false
	}
}

func (r *Runner) runPhase(ctx context.Context, rn *run, index int, phase plan.Phase) phaseOutcome {
	ctx, span := tracing.StartSpan(
		ctx,
		tracing.TracerRunner,
		"runner.phase",
		attribute.String("phase.id", phase.ID),
		attribute.Int("phase.index", index),
		attribute.Bool("phase.parallel", phase.Parallel),
	)
	defer span.End()

	if phase.Parallel {
		return r.runParallel(ctx, rn, index, phase)
	}
	return r.runSequential(ctx, rn, index, phase)
}

// runParallel submits every outstanding step at once and waits for all of
// them to reach a terminal result.
func (r *Runner) runParallel(ctx context.Context, rn *run, index int, phase plan.Phase) phaseOutcome {
	var out phaseOutcome
	var todo []plan.Step
	var tasks []task.Task

	for _, step := range phase.Steps {
		if rn.state.IsCompleted(step.ID) {
			out.completed = append(out.completed, step.ID)
			continue
		}
		todo = append(todo, step)
		tasks = append(tasks, r.scopedTask(rn, phase, step))
	}
	if len(tasks) == 0 {
		return out
	}

	rn.state.SetPosition(index, 0)
	results, _ := r.sched.Run(ctx, tasks...)

	for i, res := range results {
		step := todo[i]
		if res.Success {
			r.recordSuccess(rn, step, res)
			out.completed = append(out.completed, step.ID)
			continue
		}
		r.recordFailure(ctx, rn, step, res)
		out.fail(step)
	}
	return out
}

// runSequential runs one step at a time. A skip failure moves on to the next
// step, a human failure stops the phase and a retry failure is recorded.
func (r *Runner) runSequential(ctx context.Context, rn *run, index int, phase plan.Phase) phaseOutcome {
	var out phaseOutcome

	for j, step := range phase.Steps {
		if rn.state.IsCompleted(step.ID) {
			out.completed = append(out.completed, step.ID)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		rn.state.SetPosition(index, j)
		results, _ := r.sched.Run(ctx, r.scopedTask(rn, phase, step))
		res := results[0]

		if res.Success {
			r.recordSuccess(rn, step, res)
			out.completed = append(out.completed, step.ID)
			continue
		}

		r.recordFailure(ctx, rn, step, res)
		out.fail(step)

		if step.Fallback.Kind() == plan.FallbackHuman {
			break
		}
	}
	return out
}

func (r *Runner) recordSuccess(rn *run, step plan.Step, res task.Result) {
	rn.state.MarkCompleted(step.ID)
	rn.state.AddUsage(res.Cost)
}

func (r *Runner) recordFailure(ctx context.Context, rn *run, step plan.Step, res task.Result) {
	rn.state.MarkFailed(step.ID)

	logger := tracing.LoggerFromContext(ctx, *r.logger)
	logger.Warn().
		Str("stepId", step.ID).
		Str("fallback", string(step.Fallback.Kind())).
		Int("attempts", res.Attempts).
		Str("error", res.Error).
		Msg("Step failed")

	if step.Fallback.Kind() == plan.FallbackHuman {
		observability.RecordHumanAudit(ctx, rn.plan.ID, step.ID, map[string]interface{}{
			"error": res.Error,
		})
		r.emitter.Emit(events.NewHumanRequired(step, rn.state.Snapshot()))
	}
}

func (r *Runner) scopedTask(rn *run, phase plan.Phase, step plan.Step) task.Task {
	t := r.taskFor(phase, step)
	t.ID = rn.taskID(step.ID)
	return t
}

// taskFor derives the task for a step. Retries come from the step, then its
// fallback, then the runner default; the timeout from the phase, then the
// runner default.
func (r *Runner) taskFor(phase plan.Phase, step plan.Step) task.Task {
	retries := step.MaxRetries
	if retries <= 0 {
		retries = step.Fallback.MaxAttempts
	}
	if retries <= 0 {
		retries = r.cfg.DefaultMaxRetries
	}

	timeout := phase.Timeout()
	if timeout <= 0 {
		timeout = r.cfg.DefaultTaskTimeout
	}

	priority := step.Priority
	if priority == "" {
		priority = task.PriorityMedium
	}

	return task.Task{
		ID:          step.ID,
		Kind:        step.Action,
		Params:      step.Params,
		Priority:    priority,
		Timeout:     timeout,
		MaxRetries:  retries,
		BackoffBase: step.Fallback.Backoff(),
	}
}
