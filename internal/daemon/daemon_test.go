package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStartForeground_emptyHome(t *testing.T) {
	ctx := context.Background()
	err := StartForeground(ctx, StartOptions{Home: ""})
	if err == nil {
		t.Fatal("StartForeground empty home: expected error")
	}
}

func TestStartForeground_missingConfigPath(t *testing.T) {
	ctx := context.Background()
	err := StartForeground(ctx, StartOptions{Home: t.TempDir()})
	if err == nil {
		t.Fatal("StartForeground missing config path: expected error")
	}
}

const minimalTOML = `
socket = "murmur.sock"
`

func TestStartForeground_startsAndStops(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, "murmur.toml")
	if err := os.WriteFile(cfgPath, []byte(minimalTOML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- StartForeground(ctx, StartOptions{Home: home, ConfigPath: cfgPath})
	}()

	deadline := time.Now().Add(2 * time.Second)
	var status StatusInfo
	for time.Now().Before(deadline) {
		st, _ := Status(context.Background(), home)
		if st.Running {
			status = st
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !status.Running {
		cancel()
		t.Fatal("daemon did not report running in time")
	}
	if status.SocketPath == "" {
		t.Error("expected a non-empty socket path")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("StartForeground returned unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartForeground did not exit after cancel")
	}
}

func TestStatus_notRunning(t *testing.T) {
	st, err := Status(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatal("expected not running for fresh home")
	}
}

func TestStop_notRunning(t *testing.T) {
	stopped, err := Stop(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped {
		t.Fatal("expected Stop to report nothing stopped")
	}
}
