package daemonize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ifnotnil/daemonize/internal/descriptors"
	"github.com/ifnotnil/daemonize/internal/forker"
	"github.com/ifnotnil/daemonize/internal/session"
	"github.com/ifnotnil/daemonize/internal/shutdown"
	"github.com/ifnotnil/daemonize/pidfile"
)

// Action is the daemon's main body. It runs once, after the lock is held, and is expected to block until ctx is done.
type Action func(ctx context.Context) error

// OnShutDownCallBack is called on shutdown, before the lock is released.
type OnShutDownCallBack = shutdown.Callback

// CancelCTX is a shutdown callback that cancels the action's context at its position in the callback list.
var CancelCTX OnShutDownCallBack = shutdown.CancelCTX

// Config describes the daemon to start.
type Config struct {
	// Name identifies the daemon in logs and in the default lock path. Required.
	Name string

	// LockPath is the lock/pid file. Defaults to DefaultLockPath(Name).
	LockPath string

	// KeepDescriptors lists the descriptors that survive sanitization, at the same numbers.
	KeepDescriptors []int

	// Action is the daemon's main body. Required.
	Action Action
}

type processForker interface {
	Fork(keep []int) (forker.Role, int, error)
}

type sessionDetacher interface {
	Detach() error
}

type descriptorSanitizer interface {
	Sanitize(keep []int) error
}

// Supervisor runs one process through the daemon lifecycle: fork, detach, sanitize, lock, run, shut down.
type Supervisor struct {
	cfg  Config
	opts options

	forker    processForker
	detacher  sessionDetacher
	sanitizer descriptorSanitizer

	state   stateMachine
	started atomic.Bool

	handlerMu sync.Mutex
	handler   *shutdown.Handler
	pending   []OnShutDownCallBack
}

// New validates cfg, applies its defaults and returns a Supervisor ready to Start. cfg is copied.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if cfg.Action == nil {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidConfig)
	}
	for _, fd := range cfg.KeepDescriptors {
		if fd < 0 {
			return nil, fmt.Errorf("%w: negative descriptor %d", ErrInvalidConfig, fd)
		}
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultLockPath(cfg.Name)
	}
	cfg.KeepDescriptors = slices.Clone(cfg.KeepDescriptors)

	o := buildOptions(opts)

	return &Supervisor{
		cfg:       cfg,
		opts:      o,
		forker:    forker.New(o.childMarker),
		detacher:  session.Detacher{},
		sanitizer: descriptors.Sanitizer{},
		pending:   slices.Clone(o.onShutDown),
	}, nil
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config {
	c := s.cfg
	c.KeepDescriptors = slices.Clone(s.cfg.KeepDescriptors)

	return c
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return s.state.load() }

// OnShutDown registers callbacks to run on shutdown, before the lock is released. It can be called at any time;
// callbacks registered before Start are attached as soon as the shutdown handler is installed.
func (s *Supervisor) OnShutDown(f ...OnShutDownCallBack) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	if s.handler != nil {
		s.handler.OnShutDown(f...)
		return
	}
	s.pending = append(s.pending, f...)
}

// FatalErrorsChannel returns the channel that triggers a shutdown with exit code 1.
// It is nil until the action is running.
func (s *Supervisor) FatalErrorsChannel() chan<- error {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	if s.handler == nil {
		return nil
	}

	return s.handler.FatalErrorsChannel()
}

// Start runs the lifecycle. In the parent it exits the process with code 0 once the child is started. In the child it
// returns an error if a fatal startup step fails, and otherwise runs the action and then the shutdown, which exits the
// process. If the process exit is intercepted (tests), Start returns the action's error after shutdown completed.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	logger := s.opts.logger.With(slog.String("name", s.cfg.Name))
	keep := s.cfg.KeepDescriptors

	role, childPID, err := s.forker.Fork(keep)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFork, err)
	}
	if role == forker.Parent {
		logger.DebugContext(ctx, "daemon process started", slog.Int("childPid", childPID))
		s.opts.sys.Exit(exitCodeOK)
		return nil
	}
	s.advance(ctx, logger, StateForked)

	if err := s.detacher.Detach(); err != nil {
		return fmt.Errorf("%w: %w", ErrSession, err)
	}
	s.advance(ctx, logger, StateDetached)

	if err := s.sanitizer.Sanitize(keep); err != nil {
		logger.WarnContext(ctx, "descriptor sanitization incomplete", slog.String("error", err.Error()))
	}
	s.advance(ctx, logger, StateSanitized)

	s.opts.sys.Umask(s.opts.umask)
	if err := s.opts.sys.Chdir(s.opts.workDir); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWorkDir, s.opts.workDir, err)
	}

	if err := pidfile.EnsureDirectory(filepath.Dir(s.cfg.LockPath)); err != nil {
		logger.WarnContext(ctx, "unable to create lock directory", slog.String("error", err.Error()))
	}

	lock, err := pidfile.Acquire(s.cfg.LockPath)
	if err != nil {
		return err
	}
	defer lock.Release() //nolint:errcheck
	s.advance(ctx, logger, StateLocked)

	h := s.install(ctx, logger, lock)
	s.advance(ctx, logger, StateRunning)

	logger.InfoContext(ctx, "starting daemon",
		slog.Int("pid", lock.OwnerPID()),
		slog.String("lock", lock.Path()),
	)

	actionErr := s.cfg.Action(h.CTX())

	code := exitCodeOK
	if actionErr != nil {
		logger.ErrorContext(ctx, "daemon action failed", slog.String("error", actionErr.Error()))
		code = exitCodeFailure
	}

	h.ShutDown(code)
	h.Wait()

	return actionErr
}

func (s *Supervisor) install(ctx context.Context, logger *slog.Logger, lock *pidfile.LockFile) *shutdown.Handler {
	release := func() error {
		err := lock.Release()
		s.advance(ctx, logger, StateTerminated)
		return err
	}

	opts := s.opts
	opts.logger = logger
	h := shutdown.Install(ctx, release, opts.shutdownOptions()...)

	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	h.OnShutDown(func(context.Context) { s.advance(ctx, logger, StateShuttingDown) })
	h.OnShutDown(s.pending...)
	s.pending = nil
	s.handler = h

	return h
}

func (s *Supervisor) advance(ctx context.Context, logger *slog.Logger, next State) {
	if !s.state.advance(next) {
		logger.WarnContext(ctx, "refused lifecycle transition",
			slog.String("from", s.state.load().String()),
			slog.String("to", next.String()),
		)
		return
	}
	logger.DebugContext(ctx, "lifecycle transition", slog.String("state", next.String()))
}

// Run builds a Supervisor and starts it. Any startup failure is logged once and ends the process with exit code 1.
// It does not return in production use.
func Run(ctx context.Context, cfg Config, opts ...Option) {
	o := buildOptions(opts)

	s, err := New(cfg, opts...)
	if err != nil {
		o.logger.ErrorContext(ctx, "invalid daemon config", slog.String("error", err.Error()))
		o.sys.Exit(exitCodeFailure)
		return
	}

	if err := s.Start(ctx); err != nil && s.State() < StateRunning {
		o.logger.ErrorContext(ctx, "daemon startup failed",
			slog.String("name", cfg.Name),
			slog.Int("pid", os.Getpid()),
			slog.String("error", err.Error()),
		)
		o.sys.Exit(exitCodeFailure)
	}
}
