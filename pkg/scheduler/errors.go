package scheduler

import "errors"

var (
	ErrWorkerNotFound = errors.New("worker not found")
	ErrWorkerBusy     = errors.New("worker is busy with another task")
	ErrResultNotFound = errors.New("result not found")
	ErrNoHandler      = errors.New("no task handler configured")

	errTaskTimeout = errors.New("task timeout")
	errCancelled   = errors.New("scheduler cancelled")
)
