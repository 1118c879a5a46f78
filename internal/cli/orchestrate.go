package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karan-zipline/murmur/internal/config"
)

func newOrchestrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Start or stop a project's polling loop",
	}
	cmd.AddCommand(newOrchestrateStartCmd())
	cmd.AddCommand(newOrchestrateStopCmd())
	return cmd
}

func newOrchestrateStartCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start polling for a registered project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				return errors.New("--project is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			if err := callJSON(c, "orchestrate.start", map[string]string{"project": project}, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Orchestration started for %q\n", project)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	return cmd
}

func newOrchestrateStopCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop polling for a registered project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				return errors.New("--project is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			if err := callJSON(c, "orchestrate.stop", map[string]string{"project": project}, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Orchestration stopped for %q\n", project)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	return cmd
}
