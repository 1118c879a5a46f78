package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/daemon"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var (
		foreground bool
		configPath string
		socketPath string
		pprofAddr  string
		envFile    string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the murmur supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil {
					return err
				}
			}
			home := config.MustHomeFrom(cmd.Context())
			if configPath == "" {
				configPath = filepath.Join(home, "murmur.toml")
			}

			opts := daemon.StartOptions{
				Home:       home,
				ConfigPath: configPath,
				SocketPath: socketPath,
				PprofAddr:  pprofAddr,
				EnableOtel: enableOtel,
			}

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting murmur in foreground (config %s)\n", configPath)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "murmur started (pid %d)\n", pid)
			return nil
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to murmur.toml (default: <home>/murmur.toml)")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Override the control-plane socket path")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter)")

	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
