package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/karan-zipline/murmur/internal/capabilities"
	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/gitadapter"
	"github.com/karan-zipline/murmur/internal/issuebackend/markdown"
	"github.com/karan-zipline/murmur/internal/otel"
	"github.com/karan-zipline/murmur/internal/policy"
	"github.com/karan-zipline/murmur/internal/store"
	postgresstore "github.com/karan-zipline/murmur/internal/store/postgres"
	"github.com/karan-zipline/murmur/internal/supervisor"
	"github.com/karan-zipline/murmur/internal/transport"
)

var errNotRunning = errors.New("murmur is not running")

// StartForeground loads the project configuration, wires a Supervisor
// around it, starts every project's orchestration loop, and serves the
// control-plane socket until ctx is cancelled.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.ConfigPath == "" {
		return errors.New("config path is required")
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	startPprof(opts.PprofAddr)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.Socket
	}
	if !filepath.IsAbs(socketPath) {
		socketPath = filepath.Join(opts.Home, socketPath)
	}

	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	_ = os.WriteFile(socketRefPath(opts.Home), []byte(socketPath+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(socketRefPath(opts.Home))
	}()

	sup := supervisor.New(gitadapter.ExecAdapter{})
	sup.Home = opts.Home
	if cfg.Notify.SlackWebhookURL != "" {
		sup.Notifiers.Register("slack", capabilities.SlackWebhook{WebhookURL: cfg.Notify.SlackWebhookURL})
	}

	db, err := openStore(cfg, opts.Home)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	sup.Store = db
	defer func() { _ = db.Close() }()

	if snaps, err := db.ListAgentSnapshots(ctx, ""); err != nil {
		slog.Warn("list agent snapshots failed", "err", err)
	} else if len(snaps) > 0 {
		for _, s := range snaps {
			slog.Warn("agent was in flight when daemon last stopped, not resumed", "agent_id", s.ID, "project", s.Project, "issue", s.ClaimedIssue)
			_ = db.DeleteAgentSnapshot(ctx, s.ID)
		}
	}

	if cfg.LLM.BaseURL != "" && cfg.LLM.APIKey != "" {
		sup.LLMDecider = policy.NewLLMDecider(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	}

	for _, pc := range cfg.Projects {
		if err := registerProject(ctx, sup, pc); err != nil {
			return fmt.Errorf("project %s: %w", pc.Name, err)
		}
	}

	shutdown := make(chan struct{})
	srv := transport.NewServer(socketPath, sup.Hub)
	registerHandlers(srv, sup, opts.ConfigPath, shutdown)

	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "murmur")
		if err != nil {
			slog.Warn("otel init failed, continuing without metrics", "err", err)
		} else if err := otel.InitMetrics(ctx); err != nil {
			slog.Warn("otel metrics init failed, continuing without instruments", "err", err)
		} else {
			otel.SetActiveAgentsFunc(func() map[string]int64 {
				counts := make(map[string]int64)
				for _, rec := range sup.ListAgents("") {
					counts[rec.Project]++
				}
				return counts
			})
			http.Handle("/metrics", metricsHandler)
		}
	}

	slog.Info("daemon starting", "socket", socketPath, "home", opts.Home, "projects", len(cfg.Projects))
	if err := srv.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-shutdown:
	}
	sup.Shutdown()
	_ = srv.Stop()
	return ctx.Err()
}

// registerProject wires one config.ProjectConfig into the Supervisor: its
// issue backend (if configured), its project map entry, and its
// orchestration loop. Shared between startup's project loop and the
// project.add IPC handler, since the running daemon is the only path a
// project can be registered through.
func registerProject(ctx context.Context, sup *supervisor.Supervisor, pc config.ProjectConfig) error {
	if pc.IssuesDir != "" {
		name := pc.Name
		backend, err := markdown.New(pc.IssuesDir, func() { sup.Orch.Trigger(name) })
		if err != nil {
			return fmt.Errorf("issue backend: %w", err)
		}
		sup.SetIssueBackend(pc.Name, backend)
	}

	sup.AddProject(supervisor.ProjectConfig{
		Name:           pc.Name,
		RepoDir:        pc.RepoDir,
		WorktreesDir:   pc.WorktreesDir,
		Command:        pc.Command,
		Args:           pc.Args,
		Backend:        pc.Backend(),
		Cap:            pc.Cap,
		PollInterval:   pc.PollInterval(),
		Remote:         pc.Remote,
		Strategy:       pc.Strategy(),
		Rules:          pc.PermissionRules(),
		UsesLLMDecider: pc.UsesLLMDecider(),
	})

	return sup.StartOrchestration(ctx, pc.Name)
}

// openStore opens the persistence backend named by cfg.Store.Driver,
// defaulting to a SQLite database under home/protected/db.sqlite.
func openStore(cfg *config.File, home string) (store.Store, error) {
	if cfg.Store.Driver == "postgres" {
		return postgresstore.Open(cfg.Store.DSN)
	}
	if cfg.Store.DSN != "" {
		return store.OpenWithOptions(store.OpenOptions{Driver: "sqlite", DSN: cfg.Store.DSN})
	}
	return store.OpenWithOptions(store.OpenOptions{Driver: "sqlite", Home: home})
}

func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("murmur already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{
		"daemon",
		"--home", opts.Home,
		"--config", opts.ConfigPath,
	}
	if opts.SocketPath != "" {
		args = append(args, "--socket", opts.SocketPath)
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}

	cmd := exec.Command(exe, args...)
	setDaemonSysProcAttr(cmd)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		// On unix FindProcess always succeeds; keep this for completeness.
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pidStr := strings.TrimSpace(string(pb))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	sock := ""
	if sb, err := os.ReadFile(socketRefPath(home)); err == nil {
		sock = strings.TrimSpace(string(sb))
	}
	if sock == "" {
		sock = defaultSocketPath(home)
	}
	return StatusInfo{Running: true, PID: pid, SocketPath: sock}, nil
}
