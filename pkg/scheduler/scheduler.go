package scheduler

import (
	"context"
	"sync"

	"github.com/harun/orchestra/internal/tracing"
	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/task"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Status is a point-in-time view of the scheduler for polling observers
type Status struct {
	WorkerCount    int `json:"worker_count"`
	BusyCount      int `json:"busy_count"`
	QueuedCount    int `json:"queued_count"`
	CompletedCount int `json:"completed_count"`
}

// Scheduler owns the pending queue, the worker pool and the results map.
type Scheduler struct {
	cfg     Config
	handler task.Handler
	emitter *events.Emitter
	logger  *zerolog.Logger

	mu      sync.Mutex
	pending []*entry
	deps    map[string][]string
	kinds   map[string]string
	results map[string]task.Result
	workers []*Worker
}

// New creates a scheduler and spawns MinWorkers idle workers.
func New(cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With().Str("component", "scheduler").Logger()

	s := &Scheduler{
		cfg:     cfg,
		handler: cfg.Handler,
		emitter: cfg.Emitter,
		logger:  &logger,
		deps:    make(map[string][]string),
		kinds:   make(map[string]string),
		results: make(map[string]task.Result),
	}

	s.mu.Lock()
	spawned := s.spawnLocked(cfg.MinWorkers)
	s.publishGaugesLocked()
	s.mu.Unlock()

	s.emitScale(spawned, nil)

	s.logger.Debug().
		Int("minWorkers", cfg.MinWorkers).
		Int("maxWorkers", cfg.MaxWorkers).
		Msg("Scheduler created")

	return s
}

// AssignTasks pairs ready tasks with idle workers, in the order given, up to
// min(len(ready), idle). Tasks that are no longer pending or whose
// dependencies are unmet are skipped. It never blocks.
func (s *Scheduler) AssignTasks(ready []task.Task) []Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Assignment
	wi := 0
	for _, t := range ready {
		i := s.indexLocked(t.ID)
		if i < 0 || s.pending[i].status != task.StatusPending || !s.depsMetLocked(t.ID) {
			continue
		}

		for wi < len(s.workers) && s.workers[wi].Busy {
			wi++
		}
		if wi >= len(s.workers) {
			break
		}

		w := s.workers[wi]
		w.Busy = true
		w.TaskID = t.ID
		s.pending[i].status = task.StatusAssigned
		out = append(out, Assignment{WorkerID: w.ID, Task: s.pending[i].task})
	}

	if len(out) > 0 {
		s.publishGaugesLocked()
	}
	return out
}

// ExecuteAll drives every queued task to a terminal result. Each pass
// assigns ready tasks to idle workers, runs the batch concurrently and waits
// for it before recomputing readiness. Tasks that can never become ready are
// resolved as failed without being dispatched. When ctx is done no further
// tasks are dispatched and the rest fail with "scheduler cancelled"; the
// context error is returned.
func (s *Scheduler) ExecuteAll(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerScheduler, "scheduler.execute_all")
	defer span.End()

	s.mu.Lock()
	total := len(s.pending)
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("tasks.total", total))
	s.emitter.Emit(events.NewStart(total))
	s.logger.Info().Int("totalTasks", total).Msg("Executing queued tasks")

	for {
		if ctx.Err() != nil {
			n := s.failPending(errCancelled.Error())
			s.logger.Warn().Int("cancelled", n).Msg("Scheduler cancelled")
			return ctx.Err()
		}

		s.failBlocked()

		ready := s.ReadyTasks()
		assignments := s.AssignTasks(ready)

		if len(assignments) == 0 {
			s.mu.Lock()
			drained := len(s.pending) == 0
			inFlight := s.assignedCountLocked() > 0
			s.mu.Unlock()

			if drained {
				break
			}
			if len(ready) == 0 && !inFlight {
				s.failUnsatisfiable()
				continue
			}
			_ = sleepCtx(ctx, s.cfg.PollInterval)
			continue
		}

		var wg sync.WaitGroup
		for _, a := range assignments {
			wg.Add(1)
			go func(a Assignment) {
				defer wg.Done()
				s.Execute(ctx, a.WorkerID, a.Task)
			}(a)
		}
		wg.Wait()
	}

	s.Autoscale()
	s.logger.Info().Int("totalTasks", total).Msg("Queued tasks drained")
	return nil
}

// Run enqueues tasks, drives the queue to completion and returns the result
// for each given task in order. The error is the context error, if any; every
// task still has a result in that case.
func (s *Scheduler) Run(ctx context.Context, tasks ...task.Task) ([]task.Result, error) {
	s.Enqueue(tasks...)
	err := s.ExecuteAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]task.Result, len(tasks))
	for i, t := range tasks {
		r, ok := s.results[t.ID]
		if !ok {
			r = task.Result{TaskID: t.ID, Error: ErrResultNotFound.Error()}
		}
		out[i] = r
	}
	return out, err
}

// GetStatus returns worker, busy, queued and completed counts.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		WorkerCount:    len(s.workers),
		BusyCount:      len(s.workers) - s.idleCountLocked(),
		QueuedCount:    s.queuedCountLocked(),
		CompletedCount: len(s.results),
	}
}

// Result returns the stored result for a task id.
func (s *Scheduler) Result(taskID string) (task.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[taskID]
	if !ok {
		return task.Result{}, ErrResultNotFound
	}
	return r, nil
}

// Results returns a copy of the results map.
func (s *Scheduler) Results() map[string]task.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]task.Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

func (s *Scheduler) kindOf(taskID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kinds[taskID]
}
