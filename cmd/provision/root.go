package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath  string
	profilePath string
	envFile     string
	dryRun      bool
	verbose     bool
	only        []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "provision",
		Short:         "Provision converges a host onto a declarative action catalog",
		Long: `Provision reads an action catalog, resolves runtime parameters from a
profile, and converges the host: every action is probed first and applied
only when its target state is missing or drifted. Re-running against a
converged host changes nothing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd, flags)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the action catalog")
	cmd.PersistentFlags().StringVarP(&flags.profilePath, "profile", "p", "", "Path to the host profile (TOML)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Path to a dotenv file with secret parameters (default .env when present)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Report what would change without touching the host")
	cmd.Flags().StringSliceVar(&flags.only, "only", nil, "Run only the named actions and their dependencies")

	cmd.AddCommand(newPlanCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
