package sandbox

import (
	"path/filepath"
	"testing"
)

func TestWriteGuard_OwnWorktree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "worktrees")
	wt := filepath.Join(root, "agent-1")
	guard := &WriteGuard{WorktreesRoot: root, WorktreePath: wt}

	if !guard.AllowWrite(wt) {
		t.Error("should allow the worktree root itself")
	}
	if !guard.AllowWrite(filepath.Join(wt, "src", "main.go")) {
		t.Error("should allow a path inside the worktree")
	}
}

func TestWriteGuard_DeniesSiblingWorktree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "worktrees")
	guard := &WriteGuard{WorktreesRoot: root, WorktreePath: filepath.Join(root, "agent-1")}

	if guard.AllowWrite(filepath.Join(root, "agent-2", "src", "main.go")) {
		t.Error("should deny another agent's worktree")
	}
}

func TestWriteGuard_DeniesOutsideRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "worktrees")
	guard := &WriteGuard{WorktreesRoot: root, WorktreePath: filepath.Join(root, "agent-1")}

	if guard.AllowWrite(filepath.Join(base, "protected", "db.sqlite")) {
		t.Error("should deny paths outside the worktrees root")
	}
}

func TestWriteGuard_EmptyPath(t *testing.T) {
	guard := &WriteGuard{}
	if guard.AllowWrite("") {
		t.Error("empty path should never be allowed")
	}
}
