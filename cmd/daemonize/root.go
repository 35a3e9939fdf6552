package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ifnotnil/daemonize"
	"github.com/ifnotnil/daemonize/config"
)

var errNoTarget = errors.New("one of --config, --name or --lock-path is required")

type commandContext struct {
	configFlag   string
	nameFlag     string
	lockPathFlag string
}

// load reads the config file, if any, and applies the command line overrides on top of it.
func (c *commandContext) load() (*config.File, error) {
	var f *config.File
	if path := strings.TrimSpace(c.configFlag); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		f = loaded
	} else {
		d := config.Default()
		f = &d
	}

	if c.nameFlag != "" {
		f.Daemon.Name = c.nameFlag
	}
	if c.lockPathFlag != "" {
		f.Daemon.LockPath = c.lockPathFlag
	}

	return f, nil
}

// lockPath resolves the lock file of the daemon the command targets. Unlike start it does not need a valid config.
func (c *commandContext) lockPath() (string, error) {
	f, err := c.load()
	if err != nil {
		return "", err
	}
	if f.Daemon.LockPath != "" {
		return f.Daemon.LockPath, nil
	}
	if f.Daemon.Name != "" {
		return daemonize.DefaultLockPath(f.Daemon.Name), nil
	}

	return "", errNoTarget
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "daemonize",
		Short:         "Run a command as a singleton background daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (.toml, .yaml, .ini)")
	rootCmd.PersistentFlags().StringVar(&ctx.nameFlag, "name", "", "Daemon name, overrides daemon.name")
	rootCmd.PersistentFlags().StringVar(&ctx.lockPathFlag, "lock-path", "", "Lock file path, overrides daemon.lock_path")

	rootCmd.AddCommand(newStartCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newStopCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func printf(cmd *cobra.Command, format string, a ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, a...)
}
