package cli

import (
	"github.com/harun/orchestra/internal/engine"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every command
type globalOptions struct {
	cfgFile  string
	logLevel string
}

var rootCmd = NewRootCmd()

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "orchestra",
		Short: "Orchestra - task scheduling and execution engine for agent plans",
		Long: `Orchestra runs multi-phase execution plans on an auto-scaling worker pool.
It retries failed steps with exponential backoff, escalates capability tiers
with the retry count, honors per-step fallback policies and captures
checkpoints so interrupted plans can resume.`,
		Version:       engine.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.orchestra/orchestra.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newCheckpointsCmd(opts),
		newConfigCmd(opts),
	)

	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return engine.Version
}
