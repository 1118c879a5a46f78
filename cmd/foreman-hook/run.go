package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/karan-zipline/murmur/internal/broker"
	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/daemon"
	"github.com/karan-zipline/murmur/internal/transport"
)

// deniedExit is returned to the agent CLI's hook mechanism when the
// broker or a pre-check denies a tool call; it must stay distinct from 1
// (a hook/transport error) so the agent CLI can tell "blocked" from
// "hook crashed".
const deniedExit = 2

// deadline bounds how long a hook invocation blocks waiting on a human
// or LLM decider; it is intentionally longer than the broker's own
// default approval timeout so the broker's deadline always governs.
const deadline = 11 * time.Minute

// Run executes the hook CLI and returns a process exit code.
func Run(ctx context.Context, args []string) int {
	exitCode := 0
	root := newRootCmd(&exitCode)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return exitCode
}

func newRootCmd(exitCode *int) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:     "foreman-hook",
		Short:   "Relay one tool-call permission check or clarifying question to the murmur daemon",
		Version: Version,
	}
	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override murmur home directory (default: ~/.murmur, env: MURMUR_HOME)")

	cmd.AddCommand(newPermissionCmd(&homeOverride, exitCode))
	cmd.AddCommand(newQuestionCmd(&homeOverride))
	return cmd
}

type permissionRequest struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

// newPermissionCmd reads a {"tool","input"} JSON object from stdin,
// blocks on permission.check, and sets exitCode to deniedExit on deny —
// the same convention most coding-agent CLIs use to distinguish a
// hook-blocked tool call from a hook crash (exit 1).
func newPermissionCmd(homeOverride *string, exitCode *int) *cobra.Command {
	return &cobra.Command{
		Use:   "permission",
		Short: "Check whether a tool invocation is allowed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req permissionRequest
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&req); err != nil {
				return fmt.Errorf("decode tool call from stdin: %w", err)
			}

			c, err := connect(cmd.Context(), *homeOverride)
			if err != nil {
				return err
			}

			raw, err := c.CallWithDeadline("permission.check", map[string]string{
				"agent_id": agentID(),
				"tool":     req.Tool,
				"input":    req.Input,
			}, deadline)
			if err != nil {
				return fmt.Errorf("permission.check: %w", err)
			}
			var resp struct {
				Decision broker.Decision `json:"decision"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode permission.check response: %w", err)
			}

			if resp.Decision != broker.DecisionAllow {
				fmt.Fprintf(cmd.ErrOrStderr(), "murmur: tool call denied (agent=%s tool=%s)\n", agentID(), req.Tool)
				*exitCode = deniedExit
			}
			return nil
		},
	}
}

type questionRequest struct {
	Prompts map[string]string `json:"prompts"`
}

// newQuestionCmd reads a {"prompts":{...}} JSON object from stdin, blocks
// on question.ask, and writes the human's answers as JSON to stdout.
func newQuestionCmd(homeOverride *string) *cobra.Command {
	return &cobra.Command{
		Use:   "question",
		Short: "Ask a clarifying question and wait for a human's answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req questionRequest
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&req); err != nil {
				return fmt.Errorf("decode prompts from stdin: %w", err)
			}

			c, err := connect(cmd.Context(), *homeOverride)
			if err != nil {
				return err
			}

			raw, err := c.CallWithDeadline("question.ask", map[string]any{
				"agent_id": agentID(),
				"prompts":  req.Prompts,
			}, deadline)
			if err != nil {
				return fmt.Errorf("question.ask: %w", err)
			}
			var resp struct {
				Answers broker.Answer `json:"answers"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode question.ask response: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp.Answers)
		},
	}
}

func agentID() string {
	return os.Getenv("MURMUR_AGENT_ID")
}

func connect(ctx context.Context, homeOverride string) (*transport.Client, error) {
	home, err := config.ResolveHome(homeOverride)
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}
	st, err := daemon.Status(ctx, home)
	if err != nil {
		return nil, err
	}
	if !st.Running {
		return nil, fmt.Errorf("murmur daemon is not running at home %s", home)
	}
	return transport.NewClient(st.SocketPath), nil
}
