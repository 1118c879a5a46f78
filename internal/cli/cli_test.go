package cli

import (
	"testing"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	cmds := root.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "status", "project", "orchestrate", "agent", "approval", "question", "doctor", "nuke"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	f := root.PersistentFlags().Lookup("home")
	if f == nil {
		t.Fatal("expected --home persistent flag")
	}
}

func TestProjectListRequiresRunningDaemon(t *testing.T) {
	root := NewRootCmd("")
	root.SetArgs([]string{"--home", t.TempDir(), "project", "list"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error when no daemon is running")
	}
}

func TestAgentAbortRequiresID(t *testing.T) {
	root := NewRootCmd("")
	root.SetArgs([]string{"--home", t.TempDir(), "agent", "abort"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error when --agent-id is missing")
	}
}
