package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config represents the orchestra configuration
type Config struct {
	// Scheduler sizing and retry defaults
	Scheduler SchedulerConfig `json:"scheduler" mapstructure:"scheduler"`

	// Model names per capability tier
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// WebSocket event stream
	Stream StreamConfig `json:"stream" mapstructure:"stream"`

	// Checkpoint persistence
	Checkpoints CheckpointsConfig `json:"checkpoints" mapstructure:"checkpoints"`

	// Audit log
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Built-in actions
	Actions ActionsConfig `json:"actions" mapstructure:"actions"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// SchedulerConfig holds worker pool and executor settings
type SchedulerConfig struct {
	MinWorkers         int           `json:"min_workers" mapstructure:"min_workers"`
	MaxWorkers         int           `json:"max_workers" mapstructure:"max_workers"`
	ScaleUpThreshold   int           `json:"scale_up_threshold" mapstructure:"scale_up_threshold"`
	ScaleDownThreshold int           `json:"scale_down_threshold" mapstructure:"scale_down_threshold"`
	PollInterval       time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	BackoffBase        time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
	DefaultTaskTimeout time.Duration `json:"default_task_timeout" mapstructure:"default_task_timeout"`
	DefaultMaxRetries  int           `json:"default_max_retries" mapstructure:"default_max_retries"`
}

// ModelsConfig maps capability tiers to model names
type ModelsConfig struct {
	Fast     string `json:"fast" mapstructure:"fast"`
	Balanced string `json:"balanced" mapstructure:"balanced"`
	Powerful string `json:"powerful" mapstructure:"powerful"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus listener settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// StreamConfig holds the event stream listener settings
type StreamConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
	Path    string `json:"path" mapstructure:"path"`
	Token   string `json:"token,omitempty" mapstructure:"token"`
}

// CheckpointsConfig holds checkpoint store settings
type CheckpointsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	File    string `json:"file" mapstructure:"file"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// ActionsConfig controls the built-in step actions
type ActionsConfig struct {
	ShellEnabled bool   `json:"shell_enabled" mapstructure:"shell_enabled"`
	Shell        string `json:"shell" mapstructure:"shell"`
	WorkDir      string `json:"work_dir" mapstructure:"work_dir"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MinWorkers:         1,
			MaxWorkers:         5,
			ScaleUpThreshold:   10,
			ScaleDownThreshold: 2,
			PollInterval:       100 * time.Millisecond,
			BackoffBase:        time.Second,
			DefaultTaskTimeout: 5 * time.Minute,
			DefaultMaxRetries:  3,
		},
		Models: ModelsConfig{
			Fast:     "claude-haiku-4",
			Balanced: "claude-sonnet-4",
			Powerful: "claude-opus-4",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Stream: StreamConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8089",
			Path:    "/events",
		},
		Checkpoints: CheckpointsConfig{
			Enabled: true,
		},
		Audit: AuditConfig{
			Enabled: false,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "orchestra",
		},
		Actions: ActionsConfig{
			ShellEnabled: false,
			Shell:        "/bin/sh",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
