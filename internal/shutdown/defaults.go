package shutdown

import (
	"os"
	"syscall"
)

const (
	defaultMaxSignalCount               = 0
	defaultFatalErrorsChannelBufferSize = 10
	defaultShutdownTimeout              = 0
	defaultImmediateTerminationExitCode = 2

	exitCodeOK      = 0
	exitCodeFailure = 1
)

// only the termination signal is intercepted unless configured otherwise.
var defaultSignals = []os.Signal{syscall.SIGTERM}
