package daemonize

import (
	"fmt"
	"os"
	"syscall"
)

const (
	defaultUmask   = 0o027
	defaultWorkDir = "/"
	defaultLockDir = "/var/lock"

	exitCodeOK      = 0
	exitCodeFailure = 1
)

var defaultShutdownSignals = []os.Signal{syscall.SIGTERM}

// DefaultLockPath returns the lock path used when Config.LockPath is empty.
func DefaultLockPath(name string) string {
	return fmt.Sprintf("%s/%s/pid_file.pid", defaultLockDir, name)
}
