package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harun/orchestra/internal/config"
	"github.com/harun/orchestra/internal/logger"
	"github.com/harun/orchestra/internal/observability"
	"github.com/harun/orchestra/internal/tracing"
	"github.com/harun/orchestra/pkg/actions"
	"github.com/harun/orchestra/pkg/checkpoint"
	"github.com/harun/orchestra/pkg/events"
	"github.com/harun/orchestra/pkg/eventstream"
	"github.com/harun/orchestra/pkg/plan"
	"github.com/harun/orchestra/pkg/runner"
	"github.com/harun/orchestra/pkg/scheduler"
	"github.com/harun/orchestra/pkg/selector"
)

// Version is reported by the CLI and attached to trace resources
const Version = "0.1.0"

var (
	// ErrCheckpointsDisabled is returned when resuming without a checkpoint store
	ErrCheckpointsDisabled = errors.New("checkpoints are disabled")

	// ErrAlreadyRunning is returned by Start on a started engine
	ErrAlreadyRunning = errors.New("engine is already running")

	// ErrNotRunning is returned by Stop on a stopped engine
	ErrNotRunning = errors.New("engine is not running")
)

// Status is a point-in-time view of the engine
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
	Scheduler scheduler.Status
}

// Engine wires the runner to its collaborators: built-in actions, checkpoint
// persistence, the event stream, metrics, audit and tracing.
type Engine struct {
	config *config.Config
	logger *logger.Logger

	actions *actions.Registry
	runner  *runner.Runner
	store   *checkpoint.Store
	hub     *eventstream.Hub

	servers map[string]*http.Server
	addrs   map[string]string
	detach  []func()

	startTime      time.Time
	running        bool
	tracingEnabled bool
	mu             sync.RWMutex
}

// New builds an engine from cfg. Listeners are not opened until Start.
func New(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.EnsureRegistered()

	e := &Engine{
		config:  cfg,
		logger:  log,
		servers: make(map[string]*http.Server),
		addrs:   make(map[string]string),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, Version); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			e.tracingEnabled = true
			log.Debug().Msg("Tracing initialized")
		}
	}

	if err := e.initialize(); err != nil {
		e.release()
		return nil, err
	}
	return e, nil
}

func (e *Engine) initialize() error {
	cfg := e.config

	if cfg.Audit.Enabled {
		if err := observability.InitAuditLogger(cfg.Audit.File); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	actionsLogger := e.logger.Component("actions")
	registry, err := actions.NewDefault(actions.Config{
		ShellEnabled: cfg.Actions.ShellEnabled,
		Shell:        cfg.Actions.Shell,
		WorkDir:      cfg.Actions.WorkDir,
		Logger:       &actionsLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to register actions: %w", err)
	}
	e.actions = registry

	base := e.logger.GetZerolog()
	emitter := events.NewEmitterWithLogger(base)

	e.runner = runner.New(runner.Config{
		Handler: registry,
		Emitter: emitter,
		Scheduler: scheduler.Config{
			MinWorkers:         cfg.Scheduler.MinWorkers,
			MaxWorkers:         cfg.Scheduler.MaxWorkers,
			ScaleUpThreshold:   cfg.Scheduler.ScaleUpThreshold,
			ScaleDownThreshold: cfg.Scheduler.ScaleDownThreshold,
			PollInterval:       cfg.Scheduler.PollInterval,
			BackoffBase:        cfg.Scheduler.BackoffBase,
			DefaultTimeout:     cfg.Scheduler.DefaultTaskTimeout,
		},
		Models: selector.Models{
			Fast:     cfg.Models.Fast,
			Balanced: cfg.Models.Balanced,
			Powerful: cfg.Models.Powerful,
		},
		DefaultMaxRetries:  cfg.Scheduler.DefaultMaxRetries,
		DefaultTaskTimeout: cfg.Scheduler.DefaultTaskTimeout,
		Logger:             &base,
	})

	if cfg.Checkpoints.Enabled {
		storeLogger := e.logger.GetZerolog()
		store, err := checkpoint.NewStore(checkpoint.Config{
			DBPath: cfg.Checkpoints.DBPath,
			Logger: &storeLogger,
		})
		if err != nil {
			return fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		e.store = store
		e.detach = append(e.detach, store.Attach(emitter))
	}

	if cfg.Stream.Enabled {
		hubLogger := e.logger.GetZerolog()
		e.hub = eventstream.NewHub(eventstream.Config{
			Token:  cfg.Stream.Token,
			Logger: &hubLogger,
		})
		e.detach = append(e.detach, e.hub.Attach(emitter))
	}

	e.detach = append(e.detach, events.Subscribe(emitter, func(ev events.HumanRequired) {
		e.logger.Warn().
			Str("stepId", ev.Step.ID).
			Str("action", ev.Step.Action).
			Msg("Step requires human intervention")
	}))

	return nil
}

// Start opens the metrics and event stream listeners, when enabled
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	if e.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if err := e.serveLocked("metrics", e.config.Metrics.Addr, mux); err != nil {
			return err
		}
	}

	if e.hub != nil {
		mux := http.NewServeMux()
		mux.Handle(e.config.Stream.Path, e.hub)
		if err := e.serveLocked("stream", e.config.Stream.Addr, mux); err != nil {
			e.shutdownServersLocked()
			return err
		}
	}

	e.running = true
	e.startTime = time.Now()
	e.logger.Info().
		Str("metrics", e.addrs["metrics"]).
		Str("stream", e.addrs["stream"]).
		Bool("checkpoints", e.store != nil).
		Msg("Engine started")
	return nil
}

func (e *Engine) serveLocked(name, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for %s on %s: %w", name, addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.servers[name] = srv
	e.addrs[name] = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error().Err(err).Str("server", name).Msg("Listener stopped")
		}
	}()
	return nil
}

func (e *Engine) shutdownServersLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if e.hub != nil {
		e.hub.Close()
	}
	for name, srv := range e.servers {
		if err := srv.Shutdown(ctx); err != nil {
			e.logger.Error().Err(err).Str("server", name).Msg("Failed to shut down listener")
		}
		delete(e.servers, name)
		delete(e.addrs, name)
	}
}

// Stop closes listeners and releases the checkpoint store, audit log and
// tracer provider.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	e.shutdownServersLocked()
	e.mu.Unlock()

	e.release()
	e.logger.Info().Msg("Engine stopped")
	return nil
}

func (e *Engine) release() {
	for _, off := range e.detach {
		off()
	}
	e.detach = nil

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error().Err(err).Msg("Failed to close checkpoint store")
		}
		e.store = nil
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	if e.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(context.Background()); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down tracing")
		}
		e.tracingEnabled = false
	}
}

// CheckPlan validates the plan structure and every step's action and params
// against the registered actions.
func (e *Engine) CheckPlan(p *plan.ExecutionPlan) error {
	if err := plan.Validate(p); err != nil {
		return err
	}

	var errs []error
	for _, ph := range p.Phases {
		for _, st := range ph.Steps {
			if err := e.actions.CheckParams(st.Action, st.Params); err != nil {
				errs = append(errs, fmt.Errorf("step %s: %w", st.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Run executes a plan. With resume set, the run is seeded from the latest
// stored checkpoint of the plan, if there is one.
func (e *Engine) Run(ctx context.Context, p *plan.ExecutionPlan, resume bool) (*runner.Result, error) {
	if err := e.CheckPlan(p); err != nil {
		return nil, err
	}

	var state *plan.ExecutionState
	if resume {
		if e.store == nil {
			return nil, ErrCheckpointsDisabled
		}

		st, err := e.store.Resume(ctx, p.ID)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			e.logger.Info().Str("planId", p.ID).Msg("No checkpoint stored, starting from the first phase")
		case err != nil:
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		default:
			e.logger.Info().
				Str("planId", p.ID).
				Int("completedSteps", len(st.CompletedSteps)).
				Msg("Resuming from checkpoint")
			state = st
		}
	}

	return e.runner.ExecutePlan(ctx, p, state)
}

// Status returns the engine status
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := Status{
		Running:   e.running,
		Scheduler: e.runner.Scheduler().GetStatus(),
	}
	if e.running {
		status.StartTime = e.startTime
		status.Uptime = time.Since(e.startTime)
	}
	return status
}

// Addr returns the bound address of a started listener ("metrics" or "stream")
func (e *Engine) Addr(name string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.addrs[name]
}

// GetConfig returns the engine configuration
func (e *Engine) GetConfig() *config.Config {
	return e.config
}

// GetActions returns the action registry
func (e *Engine) GetActions() *actions.Registry {
	return e.actions
}

// GetCheckpointStore returns the checkpoint store, nil when disabled
func (e *Engine) GetCheckpointStore() *checkpoint.Store {
	return e.store
}

// GetHub returns the event stream hub, nil when disabled
func (e *Engine) GetHub() *eventstream.Hub {
	return e.hub
}
