// Package config loads a daemon description from a TOML, YAML or INI file.
//
// All three formats share the same layout: a "daemon" section describing the process and a "logging" section
// describing where its log records go.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/ifnotnil/daemonize"
	"github.com/ifnotnil/daemonize/internal/logging"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalid           = errors.New("invalid config")
)

// Daemon describes the process.
type Daemon struct {
	Name            string `toml:"name" yaml:"name" ini:"name"`
	LockPath        string `toml:"lock_path" yaml:"lock_path" ini:"lock_path"`
	KeepDescriptors []int  `toml:"keep_descriptors" yaml:"keep_descriptors" ini:"keep_descriptors" delim:","`
	// Umask is octal, e.g. "027".
	Umask   string `toml:"umask" yaml:"umask" ini:"umask"`
	WorkDir string `toml:"work_dir" yaml:"work_dir" ini:"work_dir"`
	// ShutdownGrace is a time.Duration string. Zero or empty waits for the callbacks forever.
	ShutdownGrace  string `toml:"shutdown_grace" yaml:"shutdown_grace" ini:"shutdown_grace"`
	MaxSignalCount int    `toml:"max_signal_count" yaml:"max_signal_count" ini:"max_signal_count"`
}

// Logging describes the log output. Output is "stderr", "syslog" or a file path.
type Logging struct {
	Level      string `toml:"level" yaml:"level" ini:"level"`
	Format     string `toml:"format" yaml:"format" ini:"format"`
	Output     string `toml:"output" yaml:"output" ini:"output"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb" ini:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups" ini:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days" ini:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress" ini:"compress"`
}

// File is the content of a config file.
type File struct {
	Daemon  Daemon  `toml:"daemon" yaml:"daemon" ini:"daemon"`
	Logging Logging `toml:"logging" yaml:"logging" ini:"logging"`
}

// Default returns the values used for every field a file leaves out.
func Default() File {
	return File{
		Daemon: Daemon{
			Umask:   "027",
			WorkDir: "/",
		},
		Logging: Logging{
			Level:      "info",
			Format:     logging.FormatAuto,
			Output:     logging.OutputStderr,
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Load parses the file at path, picking the decoder by extension, and validates the result.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := decode(f, filepath.Ext(path), &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decode(r io.Reader, ext string, cfg *File) error {
	var err error
	switch strings.ToLower(ext) {
	case ".toml":
		err = toml.NewDecoder(r).Decode(cfg)
	case ".yaml", ".yml":
		err = yaml.NewDecoder(r).Decode(cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case ".ini":
		var b []byte
		if b, err = io.ReadAll(r); err == nil {
			err = ini.MapTo(cfg, b)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	return nil
}

// Validate ensures the configuration is usable.
func (f *File) Validate() error {
	if strings.TrimSpace(f.Daemon.Name) == "" {
		return fmt.Errorf("%w: daemon.name is required", ErrInvalid)
	}
	for _, fd := range f.Daemon.KeepDescriptors {
		if fd < 0 {
			return fmt.Errorf("%w: daemon.keep_descriptors: negative descriptor %d", ErrInvalid, fd)
		}
	}
	if _, err := f.Daemon.umask(); err != nil {
		return err
	}
	if _, err := f.Daemon.grace(); err != nil {
		return err
	}
	if f.Daemon.MaxSignalCount < 0 {
		return fmt.Errorf("%w: daemon.max_signal_count must not be negative", ErrInvalid)
	}
	if _, err := logging.ParseLevel(f.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", ErrInvalid, err)
	}
	switch f.Logging.Format {
	case "", logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: logging.format must be one of auto, text, json", ErrInvalid)
	}

	return nil
}

func (d Daemon) umask() (int, error) {
	if d.Umask == "" {
		return 0o027, nil
	}
	m, err := strconv.ParseUint(strings.TrimPrefix(d.Umask, "0o"), 8, 32)
	if err != nil || m > 0o777 {
		return 0, fmt.Errorf("%w: daemon.umask %q is not an octal mode", ErrInvalid, d.Umask)
	}

	return int(m), nil
}

func (d Daemon) grace() (time.Duration, error) {
	if d.ShutdownGrace == "" {
		return 0, nil
	}
	g, err := time.ParseDuration(d.ShutdownGrace)
	if err != nil || g < 0 {
		return 0, fmt.Errorf("%w: daemon.shutdown_grace %q", ErrInvalid, d.ShutdownGrace)
	}

	return g, nil
}

// DaemonConfig builds the daemonize.Config that runs action.
func (f *File) DaemonConfig(action daemonize.Action) daemonize.Config {
	return daemonize.Config{
		Name:            f.Daemon.Name,
		LockPath:        f.Daemon.LockPath,
		KeepDescriptors: append([]int(nil), f.Daemon.KeepDescriptors...),
		Action:          action,
	}
}

// Options returns the daemonize options the file sets. The file must be valid.
func (f *File) Options() ([]daemonize.Option, error) {
	umask, err := f.Daemon.umask()
	if err != nil {
		return nil, err
	}
	grace, err := f.Daemon.grace()
	if err != nil {
		return nil, err
	}

	opts := []daemonize.Option{
		daemonize.WithUmask(umask),
		daemonize.WithShutdownGraceDuration(grace),
	}
	if f.Daemon.WorkDir != "" {
		opts = append(opts, daemonize.WithWorkDir(f.Daemon.WorkDir))
	}
	if f.Daemon.MaxSignalCount > 0 {
		opts = append(opts, daemonize.WithMaxSignalCount(f.Daemon.MaxSignalCount))
	}

	return opts, nil
}

// Grace returns the parsed shutdown grace period. The file must be valid.
func (f *File) Grace() time.Duration {
	g, _ := f.Daemon.grace()
	return g
}
