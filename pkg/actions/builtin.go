package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/harun/orchestra/pkg/runner"
	"github.com/harun/orchestra/pkg/task"
	"github.com/rs/zerolog"
)

const (
	maxOutput    = 10 * 1024
	defaultShell = "/bin/sh"
)

// Config selects and configures the built-in actions
type Config struct {
	ShellEnabled bool
	Shell        string
	WorkDir      string
	Logger       *zerolog.Logger
}

// NewDefault creates a registry holding the built-in actions. shell is only
// registered when cfg.ShellEnabled is set.
func NewDefault(cfg Config) (*Registry, error) {
	r := NewRegistry(cfg.Logger)

	defs := []Definition{echoAction(), sleepAction(), failAction()}
	if cfg.ShellEnabled {
		defs = append(defs, shellAction(cfg, r.logger))
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func echoAction() Definition {
	return Definition{
		Name:        "echo",
		Description: "Return the message unchanged",
		Params: []Param{
			{Name: "message", Type: "string", Description: "Text to return", Default: ""},
			{Name: "cost", Type: "number", Description: "Resource cost to report", Default: 0},
		},
		Run: func(ctx context.Context, params map[string]interface{}) (task.Output, error) {
			out := map[string]interface{}{"message": stringParam(params, "message")}
			if sel, ok := runner.SelectionFromContext(ctx); ok {
				out["tier"] = string(sel.Tier)
				out["model"] = sel.Model
			}
			return task.Output{Value: out, Cost: numberParam(params, "cost")}, nil
		},
	}
}

func sleepAction() Definition {
	return Definition{
		Name:        "sleep",
		Description: "Wait for a duration",
		Params: []Param{
			{Name: "duration", Type: "string", Description: "Go duration, e.g. 250ms", Required: true},
		},
		Run: func(ctx context.Context, params map[string]interface{}) (task.Output, error) {
			d, err := time.ParseDuration(stringParam(params, "duration"))
			if err != nil {
				return task.Output{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
			}

			timer := time.NewTimer(d)
			defer timer.Stop()

			select {
			case <-timer.C:
				return task.Output{Value: d.String()}, nil
			case <-ctx.Done():
				return task.Output{}, ctx.Err()
			}
		},
	}
}

// failAction fails every attempt, or only the first times attempts when
// times is set.
func failAction() Definition {
	return Definition{
		Name:        "fail",
		Description: "Fail with a message",
		Params: []Param{
			{Name: "message", Type: "string", Description: "Error message", Default: "step failed"},
			{Name: "times", Type: "integer", Description: "Attempts to fail before succeeding; 0 fails every attempt", Default: 0},
		},
		Run: func(ctx context.Context, params map[string]interface{}) (task.Output, error) {
			times := int(numberParam(params, "times"))
			if times > 0 {
				sel, _ := runner.SelectionFromContext(ctx)
				if sel.Retries >= times {
					return task.Output{Value: "recovered"}, nil
				}
			}
			return task.Output{}, errors.New(stringParam(params, "message"))
		},
	}
}

func shellAction(cfg Config, logger zerolog.Logger) Definition {
	shell := cfg.Shell
	if shell == "" {
		shell = defaultShell
	}

	return Definition{
		Name:        "shell",
		Description: "Run a command through the shell",
		Params: []Param{
			{Name: "command", Type: "string", Description: "Command line passed to the shell", Required: true},
			{Name: "dir", Type: "string", Description: "Working directory"},
		},
		Run: func(ctx context.Context, params map[string]interface{}) (task.Output, error) {
			command := stringParam(params, "command")

			cmd := exec.CommandContext(ctx, shell, "-c", command)
			cmd.Dir = cfg.WorkDir
			if dir := stringParam(params, "dir"); dir != "" {
				cmd.Dir = dir
			}
			cmd.Env = append(os.Environ(), selectionEnv(ctx)...)

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			start := time.Now()
			err := cmd.Run()
			duration := time.Since(start)

			exitCode := 0
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}

			logger.Debug().
				Str("command", command).
				Int("exitCode", exitCode).
				Dur("duration", duration).
				Msg("Shell action executed")

			if ctx.Err() != nil {
				return task.Output{}, ctx.Err()
			}

			out := map[string]interface{}{
				"stdout":    truncate(stdout.String()),
				"stderr":    truncate(stderr.String()),
				"exit_code": exitCode,
			}
			if err != nil {
				if exitCode != 0 {
					return task.Output{Value: out}, fmt.Errorf("command exited with code %d: %s", exitCode, truncate(stderr.String()))
				}
				return task.Output{Value: out}, fmt.Errorf("command failed: %w", err)
			}
			return task.Output{Value: out}, nil
		},
	}
}

func selectionEnv(ctx context.Context) []string {
	sel, ok := runner.SelectionFromContext(ctx)
	if !ok {
		return nil
	}
	return []string{
		"ORCHESTRA_PLAN_ID=" + sel.PlanID,
		"ORCHESTRA_STEP_ID=" + sel.StepID,
		"ORCHESTRA_TIER=" + string(sel.Tier),
		"ORCHESTRA_MODEL=" + sel.Model,
		fmt.Sprintf("ORCHESTRA_RETRIES=%d", sel.Retries),
	}
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput] + "\n... [output truncated]"
}

func stringParam(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return s
}

func numberParam(params map[string]interface{}, name string) float64 {
	switch v := params[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}
