package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harun/orchestra/pkg/task"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"pgregory.net/rapid"
)

var priorities = []task.Priority{
	task.PriorityCritical,
	task.PriorityHigh,
	task.PriorityMedium,
	task.PriorityLow,
}

// TestProperty_DependencyInvariant builds random DAGs and checks that no task
// body ever starts before every one of its dependencies has succeeded.
func TestProperty_DependencyInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "tasks")
		maxWorkers := rapid.IntRange(1, 4).Draw(rt, "maxWorkers")
		scaleUp := rapid.IntRange(1, 3).Draw(rt, "scaleUp")

		tasks := make([]task.Task, n)
		failing := make(map[string]bool, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			var deps []string
			for j := 0; j < i; j++ {
				if rapid.IntRange(0, 3).Draw(rt, fmt.Sprintf("dep_%d_%d", i, j)) == 0 {
					deps = append(deps, fmt.Sprintf("t%d", j))
				}
			}
			failing[id] = rapid.IntRange(0, 7).Draw(rt, "fail_"+id) == 0
			tasks[i] = task.Task{
				ID:         id,
				Kind:       "prop",
				DependsOn:  deps,
				MaxRetries: 1,
				Priority:   priorities[rapid.IntRange(0, 3).Draw(rt, "priority_"+id)],
			}
		}

		// reverse so dependents are usually enqueued before their dependencies
		for i, j := 0, len(tasks)-1; i < j; i, j = i+1, j-1 {
			tasks[i], tasks[j] = tasks[j], tasks[i]
		}

		var s *Scheduler
		var mu sync.Mutex
		var violations []string
		h := task.HandlerFunc(func(ctx context.Context, tk task.Task) (task.Output, error) {
			for _, dep := range tk.DependsOn {
				r, err := s.Result(dep)
				if err != nil || !r.Success {
					mu.Lock()
					violations = append(violations, tk.ID+" before "+dep)
					mu.Unlock()
				}
			}
			if failing[tk.ID] {
				return task.Output{}, errors.New("induced failure")
			}
			return task.Output{Value: tk.ID}, nil
		})

		nop := zerolog.Nop()
		s = New(Config{
			MaxWorkers:       maxWorkers,
			ScaleUpThreshold: scaleUp,
			PollInterval:     time.Millisecond,
			BackoffBase:      time.Millisecond,
			Handler:          h,
			Logger:           &nop,
		})

		results, err := s.Run(context.Background(), tasks...)
		if err != nil {
			rt.Fatalf("run: %v", err)
		}
		if len(violations) > 0 {
			rt.Fatalf("dependency violations: %v", violations)
		}

		byID := make(map[string]task.Result, len(results))
		for _, r := range results {
			byID[r.TaskID] = r
		}
		for _, tk := range tasks {
			r := byID[tk.ID]
			if !r.Success {
				continue
			}
			for _, dep := range tk.DependsOn {
				if !byID[dep].Success {
					rt.Fatalf("%s succeeded although %s failed", tk.ID, dep)
				}
			}
		}
		if s.GetStatus().QueuedCount != 0 || len(s.Pending()) != 0 {
			rt.Fatalf("queue not drained")
		}
	})
}

// TestProperty_AutoscaleBounds checks that the pool never leaves
// [MinWorkers, MaxWorkers] across enqueue and drain cycles.
func TestProperty_AutoscaleBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("pool size stays within bounds", prop.ForAll(
		func(minWorkers, extra, up, down int, batches []int) bool {
			maxWorkers := minWorkers + extra
			nop := zerolog.Nop()
			s := New(Config{
				MinWorkers:         minWorkers,
				MaxWorkers:         maxWorkers,
				ScaleUpThreshold:   up,
				ScaleDownThreshold: down,
				PollInterval:       time.Millisecond,
				Handler:            okHandler(),
				Logger:             &nop,
			})

			within := func() bool {
				n := len(s.Workers())
				return n >= minWorkers && n <= maxWorkers
			}
			if !within() {
				return false
			}

			seq := 0
			for _, size := range batches {
				tasks := make([]task.Task, size)
				for i := range tasks {
					seq++
					tasks[i] = task.Task{ID: fmt.Sprintf("b%d", seq)}
				}

				s.Enqueue(tasks...)
				if !within() {
					return false
				}
				if err := s.ExecuteAll(context.Background()); err != nil {
					return false
				}
				if !within() {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 3),
		gen.IntRange(0, 5),
		gen.IntRange(1, 10),
		gen.IntRange(1, 4),
		gen.SliceOfN(4, gen.IntRange(0, 30)),
	))

	properties.TestingRun(t)
}
