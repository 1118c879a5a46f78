package sandbox

import (
	"context"
	"testing"
)

func TestWrapCommand_emptyHomeFallsBackToPlainExec(t *testing.T) {
	cmd := WrapCommand(context.Background(), "", "", "echo", []string{"hi"})
	if cmd.Path == "" {
		t.Fatal("expected a resolved command path")
	}
	if len(cmd.Args) < 1 || cmd.Args[len(cmd.Args)-1] != "hi" {
		t.Errorf("expected args to pass through unwrapped, got %v", cmd.Args)
	}
}
