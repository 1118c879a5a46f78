package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
)

// WrapCommand returns an *exec.Cmd that runs binary with args. If home is
// non-empty and bubblewrap (bwrap) is available on Linux, the agent runs
// inside a minimal bubblewrap sandbox with home mounted read-only (so the
// daemon's protected/ state and other agents' worktrees cannot be touched)
// and worktreePath, if set, mounted read-write. Falls back to a plain
// exec.Cmd on any other platform or when bwrap is unavailable.
func WrapCommand(ctx context.Context, home, worktreePath, binary string, args []string) *exec.Cmd {
	if home == "" || runtime.GOOS != "linux" {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	absHome, err := filepath.Abs(home)
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}

	bwrapArgs := []string{
		"--ro-bind", absHome, absHome,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind", "/lib64", "/lib64",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--unshare-pid",
	}
	if worktreePath != "" {
		if absWT, err := filepath.Abs(worktreePath); err == nil {
			bwrapArgs = append(bwrapArgs, "--bind", absWT, absWT)
		}
	}
	bwrapArgs = append(bwrapArgs, "--", binary)
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, bwrap, bwrapArgs...)
}
