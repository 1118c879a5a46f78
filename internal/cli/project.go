package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/supervisor"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects known to the running daemon",
	}
	cmd.AddCommand(newProjectAddCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectRemoveCmd())
	return cmd
}

func newProjectAddCmd() *cobra.Command {
	var pc config.ProjectConfig
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a project with the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pc.Name == "" || pc.RepoDir == "" {
				return errors.New("--name and --repo-dir are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			if err := callJSON(c, "project.add", pc, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered project %q\n", pc.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&pc.Name, "name", "", "Project name")
	cmd.Flags().StringVar(&pc.RepoDir, "repo-dir", "", "Path to the project's git repository")
	cmd.Flags().StringVar(&pc.WorktreesDir, "worktrees-dir", "", "Directory agent worktrees are created under")
	cmd.Flags().StringVar(&pc.IssuesDir, "issues-dir", "", "Markdown issue ticket directory (empty disables polling)")
	cmd.Flags().StringVar(&pc.Command, "command", "", "Agent command to spawn")
	cmd.Flags().StringSliceVar(&pc.Args, "args", nil, "Agent command arguments")
	cmd.Flags().StringVar(&pc.BackendName, "backend", "per-turn", "Agent backend: interactive or per-turn")
	cmd.Flags().IntVar(&pc.Cap, "cap", 1, "Max concurrent agents for this project")
	cmd.Flags().IntVar(&pc.PollSeconds, "poll-seconds", 10, "Issue poll interval in seconds")
	cmd.Flags().StringVar(&pc.Remote, "remote", "origin", "Git remote name")
	cmd.Flags().StringVar(&pc.StrategyName, "strategy", "direct", "Merge strategy: direct or prepare-pull-request")
	cmd.Flags().StringVar(&pc.PermissionMode, "permission-mode", "rules", "Undecided-rule policy: rules or rules-llm")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects registered with the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			var projects []supervisor.ProjectConfig
			if err := callJSON(c, "project.list", nil, &projects); err != nil {
				return err
			}
			if len(projects) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No projects registered.")
				return nil
			}
			for _, p := range projects {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s) cap=%d backend=%s strategy=%s\n",
					p.Name, p.RepoDir, p.Cap, p.Backend, p.Strategy)
			}
			return nil
		},
	}
	return cmd
}

func newProjectRemoveCmd() *cobra.Command {
	var (
		name            string
		deleteWorktrees bool
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Unregister a project from the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			c, err := rpcClient(cmd.Context(), home)
			if err != nil {
				return err
			}
			req := map[string]any{"name": name, "delete_worktrees": deleteWorktrees}
			if err := callJSON(c, "project.remove", req, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed project %q\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().BoolVar(&deleteWorktrees, "delete-worktrees", false, "Also delete the project's worktrees directory")
	return cmd
}
