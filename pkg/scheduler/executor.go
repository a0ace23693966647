package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/orchestra/internal/observability"
	"github.com/harun/orchestra/internal/tracing"
	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AttemptState is the position of a single task attempt
type AttemptState int

const (
	AttemptPending AttemptState = iota
	AttemptRunning
	AttemptSucceeded
	AttemptTimedOut
	AttemptErrored
)

func (s AttemptState) String() string {
	switch s {
	case AttemptPending:
		return "pending"
	case AttemptRunning:
		return "running"
	case AttemptSucceeded:
		return "success"
	case AttemptTimedOut:
		return "timeout"
	case AttemptErrored:
		return "error"
	}
	return "unknown"
}

// Attempt is the outcome of racing one handler call against the task timeout
type Attempt struct {
	Number int
	State  AttemptState
	Output task.Output
	Err    error
}

type handlerOutcome struct {
	out task.Output
	err error
}

func noHandler(context.Context, task.Task) (task.Output, error) {
	return task.Output{}, ErrNoHandler
}

// runAttempt drives one attempt Pending -> Running -> Succeeded|TimedOut|Errored.
// The handler runs in its own goroutine and is abandoned, with its context
// cancelled, when the timeout wins the race.
func runAttempt(ctx context.Context, h task.Handler, t task.Task, number int, timeout time.Duration) Attempt {
	a := Attempt{Number: number, State: AttemptPending}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	done := make(chan handlerOutcome, 1)
	a.State = AttemptRunning
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOutcome{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		out, err := h.Handle(attemptCtx, t)
		done <- handlerOutcome{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			a.State = AttemptErrored
			a.Err = res.err
			return a
		}
		a.State = AttemptSucceeded
		a.Output = res.out
	case <-timer:
		a.State = AttemptTimedOut
		a.Err = errTaskTimeout
	case <-ctx.Done():
		a.State = AttemptErrored
		a.Err = ctx.Err()
	}
	return a
}

// Backoff returns the wait after failed attempt n (1-based): 2^n * base.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	return time.Duration(1<<uint(attempt)) * base
}

func (s *Scheduler) timeoutFor(t task.Task) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return s.cfg.DefaultTimeout
}

func (s *Scheduler) backoffBaseFor(t task.Task) time.Duration {
	if t.BackoffBase > 0 {
		return t.BackoffBase
	}
	return s.cfg.BackoffBase
}

// Execute drives one task on one worker to a terminal result. It never
// returns an error: every failure, including an unknown or busy worker, is
// reported through Result.Success and Result.Error.
func (s *Scheduler) Execute(ctx context.Context, workerID string, t task.Task) task.Result {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.reserve(workerID, t); err != nil {
		r := task.Result{TaskID: t.ID, Error: err.Error(), WorkerID: workerID}
		s.logger.Error().Str("taskId", t.ID).Str("workerId", workerID).Err(err).Msg("Task could not start")
		return r
	}

	ctx = tracing.PropagateToTask(ctx, t.ID, workerID)
	ctx, span := tracing.StartSpan(
		ctx,
		tracing.TracerScheduler,
		"scheduler.execute_task",
		attribute.String("task.kind", t.Kind),
		attribute.String("worker.id", workerID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, *s.logger)

	start := time.Now()
	attempts := t.Attempts()
	timeout := s.timeoutFor(t)

	var last Attempt
	for n := 1; n <= attempts; n++ {
		s.emitter.Emit(events.NewTaskStart(t.ID, workerID, n))

		last = runAttempt(ctx, s.handler, t, n, timeout)
		observability.RecordTaskAttempt(t.Kind, last.State.String())

		if last.State == AttemptSucceeded {
			break
		}

		logger.Warn().
			Int("attempt", n).
			Int("maxRetries", attempts).
			Str("state", last.State.String()).
			Err(last.Err).
			Msg("Task attempt failed")

		if n == attempts || ctx.Err() != nil {
			break
		}

		s.emitter.Emit(events.NewTaskRetry(t.ID, n, last.Err.Error()))

		if err := sleepCtx(ctx, Backoff(n, s.backoffBaseFor(t))); err != nil {
			break
		}
	}

	result := task.Result{
		TaskID:   t.ID,
		Success:  last.State == AttemptSucceeded,
		Duration: time.Since(start),
		Attempts: last.Number,
		WorkerID: workerID,
	}
	if result.Success {
		result.Output = last.Output.Value
		result.Cost = last.Output.Cost
	} else {
		result.Error = last.Err.Error()
		span.RecordError(last.Err)
		span.SetStatus(codes.Error, result.Error)
	}

	s.complete(workerID, result)

	logger.Debug().
		Bool("success", result.Success).
		Int("attempts", result.Attempts).
		Dur("duration", result.Duration).
		Msg("Task completed")

	observability.RecordTaskCompletion(t.Kind, result.Duration, result.Success)
	s.emitter.Emit(events.NewTaskComplete(result))

	return result
}

// reserve marks the worker busy with t and the queue entry as assigned.
// A worker already reserved for t by AssignTasks is accepted.
func (s *Scheduler) reserve(workerID string, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.workerLocked(workerID)
	if w == nil {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	if w.TaskID != "" && w.TaskID != t.ID {
		return fmt.Errorf("%w: %s holds %s", ErrWorkerBusy, workerID, w.TaskID)
	}

	w.Busy = true
	w.TaskID = t.ID
	if i := s.indexLocked(t.ID); i >= 0 {
		s.pending[i].status = task.StatusAssigned
	}
	s.kinds[t.ID] = t.Kind
	s.publishGaugesLocked()
	return nil
}

// complete stores the result, frees the worker and drops the task from the queue.
func (s *Scheduler) complete(workerID string, r task.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w := s.workerLocked(workerID); w != nil {
		w.TasksCompleted++
		if !r.Success {
			w.Errors++
		}
		w.AvgDuration += (r.Duration - w.AvgDuration) / time.Duration(w.TasksCompleted)
		w.Busy = false
		w.TaskID = ""
	}

	s.results[r.TaskID] = r
	s.removeLocked(r.TaskID)
	s.publishGaugesLocked()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTimeout reports whether a result failed because its last attempt timed out.
func IsTimeout(r task.Result) bool {
	return !r.Success && r.Error == errTaskTimeout.Error()
}

// IsCancelled reports whether a result was resolved by scheduler cancellation.
func IsCancelled(r task.Result) bool {
	return !r.Success && r.Error == errCancelled.Error()
}
