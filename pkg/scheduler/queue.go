package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/orchestra/internal/observability"
	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/task"
)

// entry is a task held in the pending queue until it reaches a terminal state
type entry struct {
	task   task.Task
	status task.Status
}

// Enqueue appends tasks to the pending queue, keeps the queue ordered by
// priority (FIFO within a tier) and runs the auto-scale check.
// A task whose id is already queued or already has a result is ignored.
func (s *Scheduler) Enqueue(tasks ...task.Task) {
	s.mu.Lock()
	for _, t := range tasks {
		if s.indexLocked(t.ID) >= 0 {
			s.logger.Warn().Str("taskId", t.ID).Msg("Task already queued, ignoring")
			continue
		}
		if _, done := s.results[t.ID]; done {
			s.logger.Warn().Str("taskId", t.ID).Msg("Task already has a result, ignoring")
			continue
		}
		if !t.Priority.Valid() {
			t.Priority = task.PriorityMedium
		}
		s.deps[t.ID] = append([]string(nil), t.DependsOn...)
		s.kinds[t.ID] = t.Kind
		s.pending = append(s.pending, &entry{task: t, status: task.StatusPending})
	}

	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].task.Priority.Rank() < s.pending[j].task.Priority.Rank()
	})

	spawned, removed := s.autoscaleLocked()
	queued := s.queuedCountLocked()
	s.publishGaugesLocked()
	s.mu.Unlock()

	s.logger.Debug().
		Int("enqueued", len(tasks)).
		Int("queueSize", queued).
		Msg("Tasks enqueued")

	s.emitScale(spawned, removed)
}

// ReadyTasks returns, without removing them, the pending tasks whose
// dependencies all have a successful result. Queue order is preserved.
func (s *Scheduler) ReadyTasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []task.Task
	for _, e := range s.pending {
		if e.status == task.StatusPending && s.depsMetLocked(e.task.ID) {
			ready = append(ready, e.task)
		}
	}
	return ready
}

// Pending returns the tasks still in the queue (pending or assigned) in
// dispatch order.
func (s *Scheduler) Pending() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]task.Task, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.task)
	}
	return out
}

func (s *Scheduler) depsMetLocked(id string) bool {
	for _, dep := range s.deps[id] {
		r, ok := s.results[dep]
		if !ok || !r.Success {
			return false
		}
	}
	return true
}

func (s *Scheduler) indexLocked(id string) int {
	for i, e := range s.pending {
		if e.task.ID == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) removeLocked(id string) {
	if i := s.indexLocked(id); i >= 0 {
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
	}
}

func (s *Scheduler) queuedCountLocked() int {
	n := 0
	for _, e := range s.pending {
		if e.status == task.StatusPending {
			n++
		}
	}
	return n
}

func (s *Scheduler) assignedCountLocked() int {
	n := 0
	for _, e := range s.pending {
		if e.status == task.StatusAssigned {
			n++
		}
	}
	return n
}

// failBlocked resolves pending tasks that depend on a failed task. It repeats
// until no more tasks are resolved so failures cascade down chains.
func (s *Scheduler) failBlocked() int {
	total := 0
	for {
		var failed []task.Result

		s.mu.Lock()
		for _, e := range append([]*entry(nil), s.pending...) {
			if e.status != task.StatusPending {
				continue
			}
			for _, dep := range s.deps[e.task.ID] {
				if r, ok := s.results[dep]; ok && !r.Success {
					failed = append(failed, s.resolveLocked(e, fmt.Sprintf("dependency failed: %s", dep)))
					break
				}
			}
		}
		s.mu.Unlock()

		s.emitResolved(failed)
		total += len(failed)
		if len(failed) == 0 {
			return total
		}
	}
}

// failUnsatisfiable resolves every pending task that is not ready. It is only
// called when nothing is in flight, so no such task can become ready.
func (s *Scheduler) failUnsatisfiable() int {
	var failed []task.Result

	s.mu.Lock()
	for _, e := range append([]*entry(nil), s.pending...) {
		if e.status != task.StatusPending || s.depsMetLocked(e.task.ID) {
			continue
		}
		var missing []string
		for _, dep := range s.deps[e.task.ID] {
			if r, ok := s.results[dep]; !ok || !r.Success {
				missing = append(missing, dep)
			}
		}
		failed = append(failed, s.resolveLocked(e, "unsatisfiable dependencies: "+strings.Join(missing, ", ")))
	}
	s.mu.Unlock()

	s.emitResolved(failed)
	return len(failed)
}

// failPending resolves every task still waiting for a worker.
func (s *Scheduler) failPending(reason string) int {
	var failed []task.Result

	s.mu.Lock()
	for _, e := range append([]*entry(nil), s.pending...) {
		if e.status == task.StatusPending {
			failed = append(failed, s.resolveLocked(e, reason))
		}
	}
	s.mu.Unlock()

	s.emitResolved(failed)
	return len(failed)
}

// resolveLocked records a failed result for a task that was never dispatched
// and drops it from the queue.
func (s *Scheduler) resolveLocked(e *entry, reason string) task.Result {
	e.status = task.StatusFailed
	r := task.Result{
		TaskID:  e.task.ID,
		Success: false,
		Error:   reason,
	}
	s.results[e.task.ID] = r
	s.removeLocked(e.task.ID)
	s.publishGaugesLocked()
	return r
}

func (s *Scheduler) emitResolved(results []task.Result) {
	for _, r := range results {
		s.logger.Warn().
			Str("taskId", r.TaskID).
			Str("reason", r.Error).
			Msg("Task resolved without dispatch")
		observability.RecordTaskCompletion(s.kindOf(r.TaskID), 0, false)
		s.emitter.Emit(events.NewTaskComplete(r))
	}
}
