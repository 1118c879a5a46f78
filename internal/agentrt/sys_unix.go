//go:build linux || darwin

package agentrt

import "syscall"

func terminationSignal() syscall.Signal {
	return syscall.SIGTERM
}
