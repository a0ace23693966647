// Package scheduler holds the task queue, the auto-scaling worker pool and
// the task executor.
//
// A Scheduler owns its pending queue, results, workers and dependency map
// behind a single mutex. Task bodies run outside that lock on the injected
// task.Handler, so tasks assigned to different workers execute concurrently.
//
// Usage:
//
//	s := scheduler.New(scheduler.Config{Handler: h, Emitter: em})
//	results, err := s.Run(ctx, tasks...)
package scheduler
