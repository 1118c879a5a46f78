package cli

import (
	"os"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "murmur",
		Short:        "murmur — local supervisor for multi-repo coding-agent fleets",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override murmur home directory (default: ~/.murmur, env: MURMUR_HOME)")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	cmd.AddCommand(newProjectCmd())
	cmd.AddCommand(newOrchestrateCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newApprovalCmd())
	cmd.AddCommand(newQuestionCmd())
	cmd.AddCommand(newNukeCmd())

	// Hidden internal subcommand used by `murmur start` for background mode.
	cmd.AddCommand(newDaemonCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
