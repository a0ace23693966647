package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harun/orchestra/internal/engine"
	"github.com/harun/orchestra/pkg/plan"
	"github.com/harun/orchestra/pkg/planwatch"
	"github.com/harun/orchestra/pkg/runner"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// errPlanAborted is returned when a single run ends without completing
var errPlanAborted = errors.New("plan aborted")

type runOptions struct {
	resume      bool
	schedule    string
	watch       bool
	metricsAddr string
	streamAddr  string
	jsonOutput  bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a plan",
		Long: `Execute a plan read from a JSON or YAML file.

With --schedule the plan is executed on a cron schedule, and with --watch it is
executed again whenever the file changes; both keep running until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, g, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.resume, "resume", false, "resume from the latest stored checkpoint of the plan")
	flags.StringVar(&opts.schedule, "schedule", "", "cron expression (e.g. \"*/15 * * * *\" or \"@every 1h\") to run the plan repeatedly")
	flags.BoolVar(&opts.watch, "watch", false, "run again whenever the plan file changes")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&opts.streamAddr, "stream-addr", "", "serve the WebSocket event stream on this address")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print the run summary as JSON")

	return cmd
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func runPlan(cmd *cobra.Command, g *globalOptions, opts *runOptions, path string) error {
	if opts.schedule != "" {
		if _, err := cronParser.Parse(opts.schedule); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.streamAddr != "" {
		cfg.Stream.Enabled = true
		cfg.Stream.Addr = opts.streamAddr
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	eng, err := engine.New(cfg, log)
	if err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := plan.NewLoader(log.Component("plan"))
	out := cmd.OutOrStdout()

	execute := func() error {
		p, err := loader.LoadFile(path)
		if err != nil {
			return err
		}
		res, err := eng.Run(ctx, p, opts.resume)
		if err != nil {
			return err
		}
		if err := printResult(out, p, res, opts.jsonOutput); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%w: %s", errPlanAborted, res.Reason)
		}
		return nil
	}

	if opts.schedule == "" && !opts.watch {
		return execute()
	}

	zl := log.Component("cli")
	report := func(trigger string) {
		if err := execute(); err != nil {
			zl.Error().Err(err).Str("trigger", trigger).Msg("Plan run failed")
		}
	}

	if opts.schedule != "" {
		c := cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: zl})),
			cron.WithLogger(cronLogger{logger: zl}),
		)
		if _, err := c.AddFunc(opts.schedule, func() { report("schedule") }); err != nil {
			return fmt.Errorf("failed to schedule plan: %w", err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()

		zl.Info().Str("schedule", opts.schedule).Str("path", path).Msg("Plan scheduled")
	}

	if opts.watch {
		w, err := planwatch.New(planwatch.Config{
			Path:     path,
			OnChange: func(string) { report("watch") },
			Logger:   &zl,
		})
		if err != nil {
			return fmt.Errorf("failed to watch plan file: %w", err)
		}
		defer w.Stop()

		zl.Info().Str("path", path).Msg("Watching plan file")
		if opts.schedule == "" {
			report("start")
		}
	}

	<-ctx.Done()
	zl.Info().Msg("Shutting down")
	return nil
}

// runSummary is the JSON form of a run result
type runSummary struct {
	PlanID         string         `json:"plan_id"`
	RunID          string         `json:"run_id"`
	Success        bool           `json:"success"`
	Status         string         `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	CompletedSteps []string       `json:"completed_steps"`
	FailedSteps    []string       `json:"failed_steps"`
	RetryCount     map[string]int `json:"retry_count"`
	ResourceUsage  float64        `json:"resource_usage"`
	Checkpoints    int            `json:"checkpoints"`
}

func summarize(p *plan.ExecutionPlan, res *runner.Result) runSummary {
	snap := res.State.Snapshot()
	return runSummary{
		PlanID:         p.ID,
		RunID:          snap.RunID,
		Success:        res.Success,
		Status:         string(res.Status),
		Reason:         res.Reason,
		DurationMs:     res.Duration.Milliseconds(),
		CompletedSteps: snap.CompletedSteps,
		FailedSteps:    snap.FailedSteps,
		RetryCount:     snap.RetryCount,
		ResourceUsage:  snap.ResourceUsage,
		Checkpoints:    len(snap.Checkpoints),
	}
}

func printResult(w io.Writer, p *plan.ExecutionPlan, res *runner.Result, asJSON bool) error {
	s := summarize(p, res)

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "Plan %s %s in %s\n", s.PlanID, s.Status, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Completed: %d/%d\n", len(s.CompletedSteps), p.StepCount())
	if len(s.FailedSteps) > 0 {
		fmt.Fprintf(w, "  Failed:    %s\n", strings.Join(s.FailedSteps, ", "))
	}
	if s.Reason != "" {
		fmt.Fprintf(w, "  Reason:    %s\n", s.Reason)
	}
	if s.Checkpoints > 0 {
		fmt.Fprintf(w, "  Checkpoints: %d\n", s.Checkpoints)
	}
	return nil
}

// cronLogger adapts zerolog to the cron.Logger interface
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

