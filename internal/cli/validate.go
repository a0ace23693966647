package cli

import (
	"errors"
	"fmt"

	"github.com/harun/orchestra/pkg/actions"
	"github.com/harun/orchestra/pkg/plan"
	"github.com/spf13/cobra"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Validate a plan without running it",
		Long: `Validate a plan file against the plan schema, check its structure
(unique ids, known phase dependencies, checkpoint indices) and check that
every step names a known action with valid params.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlan(cmd, g, args[0])
		},
	}
}

func validatePlan(cmd *cobra.Command, g *globalOptions, path string) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	p, err := plan.NewLoader(log.Component("plan")).LoadFile(path)
	if err != nil {
		return err
	}

	actionsLogger := log.Component("actions")
	registry, err := actions.NewDefault(actions.Config{
		ShellEnabled: cfg.Actions.ShellEnabled,
		Shell:        cfg.Actions.Shell,
		WorkDir:      cfg.Actions.WorkDir,
		Logger:       &actionsLogger,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, ph := range p.Phases {
		for _, st := range ph.Steps {
			if err := registry.CheckParams(st.Action, st.Params); err != nil {
				errs = append(errs, fmt.Errorf("step %s: %w", st.ID, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Plan %s is valid: %d phases, %d steps\n", p.ID, len(p.Phases), p.StepCount())
	return nil
}
