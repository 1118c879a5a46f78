//go:build windows

package agentrt

import "os"

// terminationSignal has no graceful SIGTERM equivalent on Windows; Abort
// falls back to Kill immediately on this platform.
func terminationSignal() os.Signal {
	return os.Kill
}
