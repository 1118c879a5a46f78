package cli

import (
	"path/filepath"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/daemon"
	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	var (
		configPath string
		socketPath string
		pprofAddr  string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			if configPath == "" {
				configPath = filepath.Join(home, "murmur.toml")
			}
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:       home,
				ConfigPath: configPath,
				SocketPath: socketPath,
				PprofAddr:  pprofAddr,
				EnableOtel: enableOtel,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to murmur.toml (default: <home>/murmur.toml)")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Override the control-plane socket path")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}
