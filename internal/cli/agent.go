package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karan-zipline/murmur/internal/agentrt"
	"github.com/karan-zipline/murmur/internal/config"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect and control running agents",
	}
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentAbortCmd())
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents (optionally filtered to one project)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			var recs []agentrt.Record
			if err := callJSON(c, "agent.list", map[string]string{"project": project}, &recs); err != nil {
				return err
			}
			if len(recs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			for _, r := range recs {
				line := fmt.Sprintf("- %s [%s] project=%s issue=%s branch=%s", r.ID, r.State, r.Project, r.ClaimedIssue, r.BranchName)
				if r.Label != "" {
					line += " " + r.Label
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Filter to this project")
	return cmd
}

func newAgentAbortCmd() *cobra.Command {
	var (
		agentID string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort a running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return errors.New("--agent-id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			if err := callJSON(c, "agent.abort", map[string]any{"agent_id": agentID, "force": force}, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Abort requested for %q\n", agentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent ID")
	cmd.Flags().BoolVar(&force, "force", false, "Kill instead of a graceful stop request")
	return cmd
}
