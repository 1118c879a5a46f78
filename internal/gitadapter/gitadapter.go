// Package gitadapter implements the GitAdapter capability set (C7's git
// half) — one of the three dynamic-dispatch seams named in the design
// notes. Callers depend on the Adapter interface; ExecAdapter is the only
// production implementation, shelling out to the git binary.
package gitadapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/karan-zipline/murmur/internal/foremanerr"
)

// ConflictError indicates a rebase stopped with unresolved conflicts.
type ConflictError struct {
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rebase conflict in %d file(s): %s", len(e.Files), strings.Join(e.Files, ", "))
}

// Adapter is the capability set the Merge Pipeline and Orchestrator
// consume; it never exposes a concrete exec.Cmd to callers.
type Adapter interface {
	Fetch(ctx context.Context, repoDir, remote string, prune bool) error
	DefaultBranch(ctx context.Context, repoDir string) (string, error)
	CheckoutAndResetHard(ctx context.Context, repoDir, branch, ref string) error
	CreateWorktree(ctx context.Context, repoDir, worktreePath, branch, baseRef string) error
	RemoveWorktree(ctx context.Context, repoDir, worktreePath string) error
	RebaseOnto(ctx context.Context, worktreeDir, ontoRef string) error
	FastForwardMerge(ctx context.Context, repoDir, branch string) error
	ForcePushBranch(ctx context.Context, worktreeDir, branch, remote string) error
	Push(ctx context.Context, repoDir, branch, remote string) error
	HeadSHA(ctx context.Context, dir string) (string, error)
	IsAncestor(ctx context.Context, dir, ancestor, descendant string) (bool, error)
}

// ExecAdapter shells out to the system git binary.
type ExecAdapter struct{}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), foremanerr.Wrap(foremanerr.TransientExternal, "git "+strings.Join(args, " "), fmt.Errorf("%w: %s", err, string(out)))
	}
	return string(out), nil
}

func (ExecAdapter) Fetch(ctx context.Context, repoDir, remote string, prune bool) error {
	args := []string{"fetch", remote}
	if prune {
		args = append(args, "--prune")
	}
	_, err := run(ctx, repoDir, args...)
	return err
}

// DefaultBranch probes origin/HEAD, then falls back to main, then master.
func (ExecAdapter) DefaultBranch(ctx context.Context, repoDir string) (string, error) {
	if out, err := run(ctx, repoDir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		ref := strings.TrimSpace(out)
		if idx := strings.LastIndex(ref, "/"); idx >= 0 {
			return ref[idx+1:], nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if _, err := run(ctx, repoDir, "rev-parse", "--verify", "origin/"+candidate); err == nil {
			return candidate, nil
		}
	}
	return "", foremanerr.New(foremanerr.Resource, "could not determine default branch")
}

func (ExecAdapter) CheckoutAndResetHard(ctx context.Context, repoDir, branch, ref string) error {
	if _, err := run(ctx, repoDir, "checkout", branch); err != nil {
		return err
	}
	_, err := run(ctx, repoDir, "reset", "--hard", ref)
	return err
}

func (ExecAdapter) CreateWorktree(ctx context.Context, repoDir, worktreePath, branch, baseRef string) error {
	if err := ensureParent(worktreePath); err != nil {
		return foremanerr.Wrap(foremanerr.Resource, "create worktree parent dir", err)
	}
	_, err := run(ctx, repoDir, "worktree", "add", "-b", branch, worktreePath, baseRef)
	return err
}

func (ExecAdapter) RemoveWorktree(ctx context.Context, repoDir, worktreePath string) error {
	_, err := run(ctx, repoDir, "worktree", "remove", "--force", worktreePath)
	return err
}

// RebaseOnto rebases the worktree's current branch onto ontoRef. On
// conflict, aborts the rebase (restoring the worktree to a clean state,
// per spec: "do not touch the default branch", worktree is retained for
// human inspection, not left mid-rebase) and returns a *ConflictError.
func (ExecAdapter) RebaseOnto(ctx context.Context, worktreeDir, ontoRef string) error {
	out, err := run(ctx, worktreeDir, "rebase", ontoRef)
	if err == nil {
		return nil
	}
	conflicted, _ := run(ctx, worktreeDir, "diff", "--name-only", "--diff-filter=U")
	var files []string
	for _, line := range strings.Split(conflicted, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	_, _ = run(ctx, worktreeDir, "rebase", "--abort")
	if len(files) == 0 {
		// Rebase failed for a reason other than content conflicts.
		return err
	}
	_ = out
	return &ConflictError{Files: files}
}

func (ExecAdapter) FastForwardMerge(ctx context.Context, repoDir, branch string) error {
	_, err := run(ctx, repoDir, "merge", "--ff-only", branch)
	return err
}

func (ExecAdapter) ForcePushBranch(ctx context.Context, worktreeDir, branch, remote string) error {
	_, err := run(ctx, worktreeDir, "push", "--force-with-lease", remote, branch)
	return err
}

func (ExecAdapter) Push(ctx context.Context, repoDir, branch, remote string) error {
	_, err := run(ctx, repoDir, "push", remote, branch)
	return err
}

func (ExecAdapter) HeadSHA(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

func (ExecAdapter) IsAncestor(ctx context.Context, dir, ancestor, descendant string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", ancestor, descendant)
	cmd.Dir = dir
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

func ensureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
