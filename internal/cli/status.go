package cli

import (
	"fmt"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/daemon"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show murmur daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			if !st.Running {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "murmur not running")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "murmur running (pid %d, socket %s)\n", st.PID, st.SocketPath)
			return nil
		},
	}
	return cmd
}
