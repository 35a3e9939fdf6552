package daemonize

import (
	"errors"

	"github.com/ifnotnil/daemonize/pidfile"
)

var (
	// ErrFork is returned when the child process could not be started.
	ErrFork = errors.New("fork failed")

	// ErrSession is returned when the child could not become a session leader.
	ErrSession = errors.New("session detach failed")

	// ErrWorkDir is returned when the child could not change into its working directory.
	ErrWorkDir = errors.New("change working directory failed")

	// ErrInvalidConfig is returned by New for a Config that misses required fields.
	ErrInvalidConfig = errors.New("invalid daemon config")

	// ErrAlreadyStarted is returned when Start is called a second time on the same Supervisor.
	ErrAlreadyStarted = errors.New("supervisor already started")

	// ErrAlreadyRunning means another live instance holds the lock. The new invocation must exit and leave the running
	// one alone.
	ErrAlreadyRunning = pidfile.ErrAlreadyRunning

	// ErrLockAcquisition means the lock could not be attempted, for example because of permissions.
	ErrLockAcquisition = pidfile.ErrLockAcquisition

	// ErrDirectory is logged, not returned, when the lock directory could not be created.
	ErrDirectory = pidfile.ErrDirectory
)
