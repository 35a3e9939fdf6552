package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ifnotnil/daemonize/pidfile"
)

// exitNotRunning follows the LSB status code for a stopped program.
const exitNotRunning = 3

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := ctx.lockPath()
			if err != nil {
				return err
			}

			running, err := pidfile.Probe(lock)
			if err != nil {
				return err
			}
			if !running {
				printf(cmd, "not running\n")
				return exitError{code: exitNotRunning}
			}

			pid, err := pidfile.ReadPID(lock)
			if err != nil {
				printf(cmd, "running (pid unknown)\n")
				return nil
			}
			printf(cmd, "running (pid %d)\n", pid)

			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Send SIGTERM to the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := ctx.lockPath()
			if err != nil {
				return err
			}

			running, err := pidfile.Probe(lock)
			if err != nil {
				return err
			}
			if !running {
				printf(cmd, "not running\n")
				return nil
			}

			pid, err := pidfile.ReadPID(lock)
			if err != nil {
				return fmt.Errorf("daemon is running but its pid is unreadable: %w", err)
			}
			p, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := p.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}
			printf(cmd, "stopping (pid %d)\n", pid)

			if wait <= 0 {
				return nil
			}
			if err := waitReleased(cmd.Context(), lock, wait); err != nil {
				return err
			}
			printf(cmd, "stopped\n")

			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the daemon to release its lock")

	return cmd
}

var errStopTimeout = errors.New("daemon still running")

func waitReleased(ctx context.Context, lock string, d time.Duration) error {
	ctx, cnl := context.WithTimeout(ctx, d)
	defer cnl()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		running, err := pidfile.Probe(lock)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s", errStopTimeout, d)
		case <-ticker.C:
		}
	}
}
