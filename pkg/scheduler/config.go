package scheduler

import (
	"time"

	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMinWorkers         = 1
	DefaultMaxWorkers         = 5
	DefaultScaleUpThreshold   = 10
	DefaultScaleDownThreshold = 2
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultBackoffBase        = time.Second
)

// Config holds scheduler configuration. Zero values take the defaults above.
type Config struct {
	MinWorkers         int
	MaxWorkers         int
	ScaleUpThreshold   int
	ScaleDownThreshold int

	// PollInterval is how long ExecuteAll sleeps when nothing is assignable.
	PollInterval time.Duration

	// BackoffBase is multiplied by 2^attempt between failed attempts. Tasks
	// may override it with their own BackoffBase.
	BackoffBase time.Duration

	// DefaultTimeout applies to tasks without a Timeout. Zero means no limit.
	DefaultTimeout time.Duration

	Handler task.Handler
	Emitter *events.Emitter
	Logger  *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MinWorkers < 1 {
		c.MinWorkers = DefaultMinWorkers
	}
	if c.MaxWorkers < 1 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.ScaleUpThreshold < 1 {
		c.ScaleUpThreshold = DefaultScaleUpThreshold
	}
	if c.ScaleDownThreshold < 1 {
		c.ScaleDownThreshold = DefaultScaleDownThreshold
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.Handler == nil {
		c.Handler = task.HandlerFunc(noHandler)
	}
	if c.Logger == nil {
		l := log.Logger
		c.Logger = &l
	}
	return c
}
