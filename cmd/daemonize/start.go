package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ifnotnil/daemonize"
	"github.com/ifnotnil/daemonize/config"
	"github.com/ifnotnil/daemonize/internal/logging"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var keep []int

	cmd := &cobra.Command{
		Use:   "start [flags] -- command [args...]",
		Short: "Start command in the background, unless the daemon is already running",
		Long: "Start detaches from the terminal, takes the lock file and runs command until it exits or the daemon\n" +
			"receives SIGTERM. On shutdown command receives SIGTERM and has daemon.shutdown_grace to exit.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ctx.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("keep-fd") {
				f.Daemon.KeepDescriptors = keep
			}
			if err := f.Validate(); err != nil {
				return err
			}

			opts, err := f.Options()
			if err != nil {
				return err
			}

			logger, _, err := logging.New(loggingOptions(f))
			if err != nil {
				return err
			}

			action := newCommandAction(args, f.Grace(), logger)
			opts = append(opts,
				daemonize.WithLogger(logger),
				daemonize.WithShutdownCallbacks(daemonize.CancelCTX, action.wait),
			)

			daemonize.Run(cmd.Context(), f.DaemonConfig(action.run), opts...)

			return nil
		},
	}

	cmd.Flags().IntSliceVar(&keep, "keep-fd", nil, "Descriptor to keep open in the daemon, repeatable")

	return cmd
}

// loggingOptions maps the logging section of f to the logger factory options. Syslog records are tagged with the
// daemon name.
func loggingOptions(f *config.File) logging.Options {
	return logging.Options{
		Level:      f.Logging.Level,
		Format:     f.Logging.Format,
		Output:     f.Logging.Output,
		Tag:        f.Daemon.Name,
		MaxSizeMB:  f.Logging.MaxSizeMB,
		MaxBackups: f.Logging.MaxBackups,
		MaxAgeDays: f.Logging.MaxAgeDays,
		Compress:   f.Logging.Compress,
	}
}

// commandAction runs an external command as the daemon's action.
type commandAction struct {
	argv   []string
	grace  time.Duration
	logger *slog.Logger
	done   chan struct{}
}

func newCommandAction(argv []string, grace time.Duration, logger *slog.Logger) *commandAction {
	return &commandAction{
		argv:   argv,
		grace:  grace,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (a *commandAction) run(ctx context.Context) error {
	defer close(a.done)

	c := exec.CommandContext(ctx, a.argv[0], a.argv[1:]...) //nolint:gosec
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Cancel = func() error { return c.Process.Signal(syscall.SIGTERM) }
	c.WaitDelay = a.grace

	if err := c.Start(); err != nil {
		return fmt.Errorf("start %s: %w", a.argv[0], err)
	}
	a.logger.InfoContext(ctx, "command started", slog.String("command", a.argv[0]), slog.Int("commandPid", c.Process.Pid))

	err := c.Wait()
	if ctx.Err() != nil {
		a.logger.InfoContext(ctx, "command stopped", slog.String("command", a.argv[0]))
		return nil
	}
	if err != nil {
		return fmt.Errorf("command %s: %w", a.argv[0], err)
	}

	a.logger.InfoContext(ctx, "command exited", slog.String("command", a.argv[0]))

	return nil
}

// wait is a shutdown callback that holds the shutdown until the command has exited, or the grace period is over.
func (a *commandAction) wait(ctx context.Context) {
	select {
	case <-a.done:
	case <-ctx.Done():
	}
}
