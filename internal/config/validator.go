package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePoolBounds checks worker pool sizing.
func (v *Validator) ValidatePoolBounds(minWorkers, maxWorkers int) error {
	if minWorkers < 1 {
		return fmt.Errorf("scheduler.min_workers must be >= 1, got %d", minWorkers)
	}
	if maxWorkers < minWorkers {
		return fmt.Errorf("scheduler.max_workers (%d) must be >= min_workers (%d)", maxWorkers, minWorkers)
	}
	return nil
}

// ValidateThreshold checks a scale threshold.
func (v *Validator) ValidateThreshold(name string, value int) error {
	if value < 1 {
		return fmt.Errorf("scheduler.%s must be >= 1, got %d", name, value)
	}
	return nil
}

// ValidatePositiveDuration rejects zero and negative durations.
func (v *Validator) ValidatePositiveDuration(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(tier, model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("models.%s cannot be empty", tier)
	}
	return nil
}

// ValidateAddr checks a host:port listen address.
func (v *Validator) ValidateAddr(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: invalid address %q: %w", name, addr, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error
	add := func(err error) {
		if err != nil {
			errors = append(errors, err)
		}
	}

	s := cfg.Scheduler
	add(v.ValidatePoolBounds(s.MinWorkers, s.MaxWorkers))
	add(v.ValidateThreshold("scale_up_threshold", s.ScaleUpThreshold))
	add(v.ValidateThreshold("scale_down_threshold", s.ScaleDownThreshold))
	add(v.ValidatePositiveDuration("scheduler.poll_interval", s.PollInterval))
	add(v.ValidatePositiveDuration("scheduler.default_task_timeout", s.DefaultTaskTimeout))
	if s.BackoffBase < 0 {
		add(fmt.Errorf("scheduler.backoff_base must be >= 0, got %s", s.BackoffBase))
	}
	if s.DefaultMaxRetries < 1 {
		add(fmt.Errorf("scheduler.default_max_retries must be >= 1, got %d", s.DefaultMaxRetries))
	}

	add(v.ValidateModel("fast", cfg.Models.Fast))
	add(v.ValidateModel("balanced", cfg.Models.Balanced))
	add(v.ValidateModel("powerful", cfg.Models.Powerful))

	if cfg.Metrics.Enabled {
		add(v.ValidateAddr("metrics.addr", cfg.Metrics.Addr))
	}
	if cfg.Stream.Enabled {
		add(v.ValidateAddr("stream.addr", cfg.Stream.Addr))
		if !strings.HasPrefix(cfg.Stream.Path, "/") {
			add(fmt.Errorf("stream.path must start with /, got %q", cfg.Stream.Path))
		}
	}

	if cfg.Actions.ShellEnabled && strings.TrimSpace(cfg.Actions.Shell) == "" {
		add(fmt.Errorf("actions.shell is required when shell actions are enabled"))
	}

	add(v.ValidateLogLevel(cfg.Logging.Level))

	return errors
}
