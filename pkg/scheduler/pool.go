package scheduler

import (
	"time"

	"github.com/harun/orchestra/internal/observability"
	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/task"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Worker is a logical execution slot. Values returned by the scheduler are
// copies; the pool owns the live record.
type Worker struct {
	ID             string        `json:"id"`
	Busy           bool          `json:"busy"`
	TaskID         string        `json:"task_id,omitempty"`
	TasksCompleted int           `json:"tasks_completed"`
	Errors         int           `json:"errors"`
	AvgDuration    time.Duration `json:"avg_duration"`
	SpawnedAt      time.Time     `json:"spawned_at"`
}

// Assignment pairs a ready task with the idle worker reserved for it
type Assignment struct {
	WorkerID string
	Task     task.Task
}

func newWorkerID() string {
	id, err := gonanoid.New(10)
	if err != nil {
		return "w-" + time.Now().Format("150405.000000000")
	}
	return "w-" + id
}

func (s *Scheduler) workerLocked(id string) *Worker {
	for _, w := range s.workers {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (s *Scheduler) idleCountLocked() int {
	n := 0
	for _, w := range s.workers {
		if !w.Busy {
			n++
		}
	}
	return n
}

func (s *Scheduler) spawnLocked(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		w := &Worker{ID: newWorkerID(), SpawnedAt: time.Now()}
		s.workers = append(s.workers, w)
		ids = append(ids, w.ID)
	}
	return ids
}

// removeIdleLocked tears down up to n idle workers, newest first.
func (s *Scheduler) removeIdleLocked(n int) []string {
	var ids []string
	for i := len(s.workers) - 1; i >= 0 && len(ids) < n; i-- {
		if s.workers[i].Busy {
			continue
		}
		ids = append(ids, s.workers[i].ID)
		s.workers = append(s.workers[:i], s.workers[i+1:]...)
	}
	return ids
}

// autoscaleLocked grows the pool when the queue is deep, then shrinks it when
// too many workers sit idle. The two checks are independent: a grow can be
// followed by a shrink in the same pass. Busy workers are never removed and
// the pool stays within [MinWorkers, MaxWorkers].
func (s *Scheduler) autoscaleLocked() (spawned, removed []string) {
	pending := s.queuedCountLocked()

	if total := len(s.workers); pending > s.cfg.ScaleUpThreshold && total < s.cfg.MaxWorkers {
		want := (pending + s.cfg.ScaleUpThreshold - 1) / s.cfg.ScaleUpThreshold
		spawned = s.spawnLocked(min(s.cfg.MaxWorkers-total, want))
	}

	idle := s.idleCountLocked()
	if total := len(s.workers); idle > s.cfg.ScaleDownThreshold && total > s.cfg.MinWorkers {
		removed = s.removeIdleLocked(min(idle-s.cfg.ScaleDownThreshold, total-s.cfg.MinWorkers))
	}
	return spawned, removed
}

// Autoscale runs the pool sizing check outside of Enqueue.
func (s *Scheduler) Autoscale() {
	s.mu.Lock()
	spawned, removed := s.autoscaleLocked()
	s.publishGaugesLocked()
	s.mu.Unlock()

	s.emitScale(spawned, removed)
}

func (s *Scheduler) emitScale(spawned, removed []string) {
	if len(spawned) > 0 {
		observability.RecordPoolScale("up", len(spawned))
	}
	if len(removed) > 0 {
		observability.RecordPoolScale("down", len(removed))
	}

	for _, id := range spawned {
		s.logger.Debug().Str("workerId", id).Msg("Worker spawned")
		s.emitter.Emit(events.NewWorkerSpawned(id))
	}
	for _, id := range removed {
		s.logger.Debug().Str("workerId", id).Msg("Worker removed")
		s.emitter.Emit(events.NewWorkerRemoved(id))
	}
}

// Worker returns a copy of the worker with the given id.
func (s *Scheduler) Worker(id string) (Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.workerLocked(id)
	if w == nil {
		return Worker{}, ErrWorkerNotFound
	}
	return *w, nil
}

// Workers returns copies of all workers in spawn order.
func (s *Scheduler) Workers() []Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Worker, len(s.workers))
	for i, w := range s.workers {
		out[i] = *w
	}
	return out
}

func (s *Scheduler) publishGaugesLocked() {
	observability.SetPoolSize(len(s.workers), len(s.workers)-s.idleCountLocked())
	observability.SetQueueSize(s.queuedCountLocked())
}
