package daemonize

import (
	"log/slog"
	"os"
	"time"

	"github.com/ifnotnil/daemonize/internal/forker"
	"github.com/ifnotnil/daemonize/internal/shutdown"
)

type options struct {
	logger                       *slog.Logger
	umask                        int
	workDir                      string
	childMarker                  string
	shutdownSignals              []os.Signal
	shutdownTimeout              time.Duration
	maxSignalCount               int
	fatalErrorsChannelBufferSize int
	onShutDown                   []OnShutDownCallBack
	sys                          system
}

func defaultOptions() options {
	return options{
		logger:                       slog.New(slog.DiscardHandler),
		umask:                        defaultUmask,
		workDir:                      defaultWorkDir,
		childMarker:                  forker.DefaultMarker,
		shutdownSignals:              defaultShutdownSignals,
		fatalErrorsChannelBufferSize: 10,
		sys:                          std{},
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	return o
}

func (o options) shutdownOptions() []shutdown.Option {
	return []shutdown.Option{
		shutdown.WithLogger(o.logger),
		shutdown.WithSignalsNotify(o.shutdownSignals...),
		shutdown.WithShutdownGraceDuration(o.shutdownTimeout),
		shutdown.WithMaxSignalCount(o.maxSignalCount),
		shutdown.WithFatalErrorsChannelBufferSize(o.fatalErrorsChannelBufferSize),
		shutdown.WithExitFunc(o.sys.Exit),
	}
}

type Option func(*options)

// WithLogger sets the logger that receives the lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithUmask sets the file mode creation mask applied after sanitization. Default 0o027.
func WithUmask(mask int) Option {
	return func(o *options) {
		o.umask = mask
	}
}

// WithWorkDir sets the directory the daemon changes into. Default "/".
func WithWorkDir(dir string) Option {
	return func(o *options) {
		o.workDir = dir
	}
}

// WithChildMarker sets the environment variable used to recognise the re-executed child.
func WithChildMarker(name string) Option {
	return func(o *options) {
		o.childMarker = name
	}
}

// WithShutdownSignals sets the OS signals that stop the daemon. Default SIGTERM.
func WithShutdownSignals(signals ...os.Signal) Option {
	return func(o *options) {
		o.shutdownSignals = signals
	}
}

// WithShutdownGraceDuration sets a timeout to the shutdown callbacks.
// Zero duration means infinite shutdown grace period.
func WithShutdownGraceDuration(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}

// WithMaxSignalCount sets the maximum number of signals to receive while the shutdown callbacks run.
// If the max number of signals is reached, the process exits immediately with code 2.
func WithMaxSignalCount(n int) Option {
	return func(o *options) {
		o.maxSignalCount = n
	}
}

// WithFatalErrorsChannelBufferSize sets the buffer size of FatalErrorsChannel.
func WithFatalErrorsChannelBufferSize(size int) Option {
	return func(o *options) {
		o.fatalErrorsChannelBufferSize = size
	}
}

// WithShutdownCallbacks registers callbacks to run on shutdown, same as calling OnShutDown before Start.
func WithShutdownCallbacks(f ...OnShutDownCallBack) Option {
	return func(o *options) {
		o.onShutDown = append(o.onShutDown, f...)
	}
}
