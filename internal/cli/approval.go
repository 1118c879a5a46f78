package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karan-zipline/murmur/internal/broker"
	"github.com/karan-zipline/murmur/internal/config"
)

func newApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Inspect and answer pending tool-invocation approvals",
	}
	cmd.AddCommand(newApprovalListCmd())
	cmd.AddCommand(newApprovalRespondCmd())
	return cmd
}

func newApprovalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			var entries []broker.ListEntry
			if err := callJSON(c, "approval.list", nil, &entries); err != nil {
				return err
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No pending approvals.")
				return nil
			}
			for _, e := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s agent=%s deadline=%s\n", e.CorrelationID, e.AgentID, e.Deadline.Format("15:04:05"))
			}
			return nil
		},
	}
	return cmd
}

func newApprovalRespondCmd() *cobra.Command {
	var (
		id      string
		allow   bool
		deny    bool
	)
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Resolve a pending approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			if allow == deny {
				return errors.New("exactly one of --allow or --deny is required")
			}
			decision := broker.DecisionDeny
			if allow {
				decision = broker.DecisionAllow
			}
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			if err := callJSON(c, "approval.respond", map[string]any{"correlation_id": id, "decision": decision}, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s\n", decision)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Correlation ID from `approval list`")
	cmd.Flags().BoolVar(&allow, "allow", false, "Allow the tool invocation")
	cmd.Flags().BoolVar(&deny, "deny", false, "Deny the tool invocation")
	return cmd
}
