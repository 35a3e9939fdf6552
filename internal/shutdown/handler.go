// Package shutdown turns the stop conditions of a running daemon into one orderly, exactly-once cleanup.
//
// Stop conditions:
//  1. One of the shutdown signals is received from OS (exit code 0).
//  2. An error is received in the fatal errors channel (exit code 1).
//  3. The parent context given to Install is done (exit code 0).
//  4. ShutDown(code) is called, which is how the owner reports that its main action returned.
//
// Whichever condition comes first wins. Cleanup logs, runs the registered callbacks, releases the lock, cancels
// CTX() and finally calls the exit function with the winning exit code. Every later stop condition is a no-op.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type handlerCTXKeyType string

const handlerCTXKey = handlerCTXKeyType("shutdownHandlerCTXKey")

// Callback is called on shutdown with a context that carries the grace period deadline, if any.
type Callback func(context.Context)

// CancelCTX is a Callback that cancels the handler's CTX() at its position in the callback list, letting later
// callbacks wait for work that observes CTX() to wind down.
var CancelCTX Callback = func(ctx context.Context) {
	a := ctx.Value(handlerCTXKey)
	if h, is := a.(*Handler); is {
		h.ctxCancel()
	}
}

type config struct {
	signalsNotify                []os.Signal
	maxSignalCount               int
	fatalErrorsChannelBufferSize int
	shutdownTimeout              time.Duration
	logger                       *slog.Logger
	exitFn                       func(code int)
}

// Handler watches the stop conditions of a daemon and runs its cleanup once.
type Handler struct {
	config config

	release func() error

	parentCTX context.Context
	ctx       context.Context
	ctxCancel func()

	signalCh      chan os.Signal
	fatalErrorsCh chan error

	onShutDownMutex sync.Mutex
	onShutDown      []Callback

	shutDownOnce sync.Once

	done chan struct{}
}

// CTX returns the cancelable ctx that gets cancelled when the handler runs its cleanup.
func (o *Handler) CTX() context.Context { return o.ctx }

// Install subscribes to the shutdown signals and starts watching the stop conditions. release is called exactly once
// during cleanup, after the callbacks.
func Install(parentCTX context.Context, release func() error, opts ...Option) *Handler {
	cnf := config{
		signalsNotify:                defaultSignals,
		maxSignalCount:               defaultMaxSignalCount,
		fatalErrorsChannelBufferSize: defaultFatalErrorsChannelBufferSize,
		shutdownTimeout:              defaultShutdownTimeout,
		logger:                       slog.New(slog.DiscardHandler),
		exitFn:                       os.Exit,
	}

	for _, o := range opts {
		o(&cnf)
	}

	signalCh := make(chan os.Signal, max(1, cnf.maxSignalCount))
	signal.Notify(signalCh, cnf.signalsNotify...)

	ctx, ctxCancel := context.WithCancel(parentCTX)
	o := &Handler{
		config: cnf,

		release: release,

		parentCTX: parentCTX,
		ctx:       ctx,
		ctxCancel: ctxCancel,

		signalCh:      signalCh,
		fatalErrorsCh: make(chan error, cnf.fatalErrorsChannelBufferSize),

		done: make(chan struct{}),
	}

	o.start()

	return o
}

// OnShutDown appends functions to be called on shutdown, in registration order, before the lock gets released.
// The provided functions are called with a non done context that has the timeout configured using
// WithShutdownGraceDuration.
func (o *Handler) OnShutDown(f ...Callback) {
	o.onShutDownMutex.Lock()
	defer o.onShutDownMutex.Unlock()
	o.onShutDown = append(o.onShutDown, f...)
}

func (o *Handler) shutDown(code int) {
	o.config.logger.InfoContext(o.ctx, "stopping daemon", slog.Int("exitCode", code))

	// callbacks must still run when the stop condition is the parent ctx itself.
	pCTX := context.WithValue(context.WithoutCancel(o.parentCTX), handlerCTXKey, o)

	if o.config.shutdownTimeout > 0 {
		dlCTX, dlCancel := context.WithTimeout(pCTX, o.config.shutdownTimeout)
		runWithMutex(dlCTX, &o.onShutDownMutex, &o.onShutDown)
		dlCancel()
	} else {
		runWithMutex(pCTX, &o.onShutDownMutex, &o.onShutDown)
	}

	if o.release != nil {
		if err := o.release(); err != nil {
			o.config.logger.WarnContext(o.parentCTX, "lock release failed", slog.String("error", err.Error()))
		}
	}

	signal.Stop(o.signalCh)
	o.ctxCancel()

	o.config.logger.InfoContext(o.parentCTX, "shutdown completed", slog.Int("exitCode", code))

	o.config.exitFn(code)

	close(o.done)
}

// ShutDown initiates the cleanup (once) in a separate go routine in order to return immediately. code is used as the
// process exit code unless another stop condition got there first.
func (o *Handler) ShutDown(code int) {
	o.shutDownOnce.Do(func() {
		go o.shutDown(code)
	})
}

// FatalErrorsChannel returns the fatal error channel that can be used by the application in order to trigger a
// shutdown with exit code 1.
func (o *Handler) FatalErrorsChannel() chan<- error {
	return o.fatalErrorsCh
}

func (o *Handler) logSignal(sig os.Signal) {
	attrs := []any{slog.String("signal", sig.String())}
	if n, ok := sig.(syscall.Signal); ok {
		attrs = append(attrs, slog.Int("signalCode", int(n)))
	}
	o.config.logger.WarnContext(o.ctx, "shutdown signal received", attrs...)
}

func (o *Handler) logFatalError(err error) {
	o.config.logger.ErrorContext(o.ctx, "fatal error received, stopping daemon", slog.String("error", err.Error()))
}

// start spawns the go routines that run until one of the stop conditions is met.
func (o *Handler) start() {
	go func() {
		sigReceived := 0
		// this loop keeps receiving to ensure that any possible send to signalCh and/or fatalErrorsCh will never block.
		for {
			select {
			// Stop condition (1) signal received.
			case sig := <-o.signalCh:
				sigReceived++
				o.logSignal(sig)
				if o.config.maxSignalCount > 0 && sigReceived >= o.config.maxSignalCount {
					o.config.logger.Error("max number of signal received, terminating immediately")
					o.config.exitFn(defaultImmediateTerminationExitCode)
				}
				o.ShutDown(exitCodeOK)

			// Stop condition (2) fatal error received.
			case err := <-o.fatalErrorsCh:
				o.logFatalError(err)
				o.ShutDown(exitCodeFailure)

			// stop the loop
			case <-o.done:
				return
			}
		}
	}()

	// Stop condition (3) parent context is done.
	go func() {
		select {
		case <-o.parentCTX.Done():
			err := o.parentCTX.Err()
			s := ""
			if err != nil {
				s = err.Error()
			}
			o.config.logger.Error("parent context got canceled", slog.String("error", s))
			o.ShutDown(exitCodeOK)
			return

		// stop the loop
		case <-o.done:
			return
		}
	}()
}

// Wait blocks until the cleanup has completed.
func (o *Handler) Wait() {
	<-o.done
}

type Option func(*config)

// WithSignalsNotify sets the OS signals that stop the daemon.
func WithSignalsNotify(signals ...os.Signal) Option {
	return func(oc *config) {
		oc.signalsNotify = signals
	}
}

// WithMaxSignalCount sets the maximum number of signals to receive while waiting for the cleanup.
// If the max number of signals is reached, immediate termination follows.
func WithMaxSignalCount(size int) Option {
	return func(oc *config) {
		oc.maxSignalCount = size
	}
}

// WithFatalErrorsChannelBufferSize sets the fatal error channel size in case that is needed to be a buffered one.
func WithFatalErrorsChannelBufferSize(size int) Option {
	return func(oc *config) {
		oc.fatalErrorsChannelBufferSize = size
	}
}

// WithShutdownGraceDuration sets a timeout to the shutdown callbacks.
// Zero duration means infinite shutdown grace period.
func WithShutdownGraceDuration(d time.Duration) Option {
	return func(oc *config) {
		oc.shutdownTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(oc *config) {
		oc.logger = l
	}
}

// WithExitFunc replaces os.Exit.
func WithExitFunc(fn func(code int)) Option {
	return func(oc *config) {
		oc.exitFn = fn
	}
}

func runWithMutex(ctx context.Context, m *sync.Mutex, fns *[]Callback) {
	m.Lock()
	defer m.Unlock()
	for _, f := range *fns {
		f(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}
