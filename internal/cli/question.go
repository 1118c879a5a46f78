package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/karan-zipline/murmur/internal/broker"
	"github.com/karan-zipline/murmur/internal/config"
)

func newQuestionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "question",
		Short: "Inspect and answer pending agent clarifying questions",
	}
	cmd.AddCommand(newQuestionListCmd())
	cmd.AddCommand(newQuestionRespondCmd())
	return cmd
}

func newQuestionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			var entries []broker.ListEntry
			if err := callJSON(c, "question.list", nil, &entries); err != nil {
				return err
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No pending questions.")
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

func newQuestionRespondCmd() *cobra.Command {
	var (
		id      string
		answers []string
	)
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Answer a pending question (key=value pairs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			ans := make(broker.Answer, len(answers))
			for _, kv := range answers {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --answer %q, expected key=value", kv)
				}
				ans[k] = v
			}
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			if err := callJSON(c, "question.respond", map[string]any{"correlation_id": id, "answers": ans}, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Recorded answer")
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Correlation ID from `question list`")
	cmd.Flags().StringSliceVar(&answers, "answer", nil, "key=value, repeatable")
	return cmd
}
