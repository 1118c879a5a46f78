package daemon

import (
	"path/filepath"
)

func protectedDir(home string) string {
	return filepath.Join(home, "protected")
}

func pidPath(home string) string {
	return filepath.Join(protectedDir(home), "daemon.pid")
}

func lockPath(home string) string {
	return filepath.Join(protectedDir(home), "daemon.lock")
}

func socketRefPath(home string) string {
	return filepath.Join(protectedDir(home), "daemon.sock.path")
}

func defaultSocketPath(home string) string {
	return filepath.Join(protectedDir(home), "murmur.sock")
}
