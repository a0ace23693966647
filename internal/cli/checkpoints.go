package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/orchestra/pkg/checkpoint"
	"github.com/spf13/cobra"
)

type checkpointsOptions struct {
	jsonOutput bool
	clear      bool
}

func newCheckpointsCmd(g *globalOptions) *cobra.Command {
	opts := &checkpointsOptions{}

	cmd := &cobra.Command{
		Use:   "checkpoints <plan-id>",
		Short: "List stored checkpoints of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listCheckpoints(cmd, g, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print checkpoints as JSON")
	cmd.Flags().BoolVar(&opts.clear, "clear", false, "delete the plan's checkpoints")

	return cmd
}

func listCheckpoints(cmd *cobra.Command, g *globalOptions, opts *checkpointsOptions, planID string) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if !cfg.Checkpoints.Enabled {
		return fmt.Errorf("checkpoints are disabled in the configuration")
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	storeLogger := log.GetZerolog()
	store, err := checkpoint.NewStore(checkpoint.Config{DBPath: cfg.Checkpoints.DBPath, Logger: &storeLogger})
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if opts.clear {
		n, err := store.Delete(ctx, planID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d checkpoints of plan %s\n", n, planID)
		return nil
	}

	recs, err := store.List(ctx, planID)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		if recs == nil {
			recs = []checkpoint.Record{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	if len(recs) == 0 {
		fmt.Fprintf(out, "No checkpoints stored for plan %s\n", planID)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECKPOINT\tRUN\tPHASE\tSTEPS\tTIME")
	for _, rec := range recs {
		cp := rec.Checkpoint
		fmt.Fprintf(tw, "%s\t%s\t%d:%s\t%d\t%s\n",
			shortID(cp.ID),
			shortID(rec.RunID),
			cp.PhaseIndex,
			cp.PhaseID,
			len(cp.CompletedSteps),
			cp.Timestamp.Format(time.RFC3339),
		)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
