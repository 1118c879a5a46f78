package sandbox

import (
	"path/filepath"
	"strings"
)

// WriteGuard confines an agent's filesystem writes to its own worktree.
// The merge pipeline is the only thing allowed to touch the repo's working
// tree or the daemon's protected state outside of it; an agent that tries
// to write anywhere else is misbehaving or has been prompt-injected.
type WriteGuard struct {
	WorktreesRoot string // e.g. <project>/worktrees
	WorktreePath  string // this agent's own worktree, e.g. WorktreesRoot/<agentID>
}

// AllowWrite reports whether path falls inside the agent's own worktree.
// Paths are cleaned and absolutized before comparison.
func (g *WriteGuard) AllowWrite(path string) bool {
	if path == "" {
		return false
	}
	abs := normalizeDir(path)
	if root := normalizeDir(g.WorktreesRoot); root != "" && !underDir(abs, root) {
		return false
	}
	wt := normalizeDir(g.WorktreePath)
	return wt != "" && underDir(abs, wt)
}

func underDir(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func normalizeDir(dir string) string {
	if dir == "" {
		return ""
	}
	clean := filepath.Clean(dir)
	abs, err := filepath.Abs(clean)
	if err != nil {
		return clean
	}
	return abs
}
