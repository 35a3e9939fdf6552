// Package logging builds the slog logger used by the daemonize command.
//
// Three outputs are supported: the standard error stream, syslog and a rotating file. File output is opened lazily
// on the first write, so a logger built before the fork writes from the daemon without any descriptor being kept.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	OutputStderr = "stderr"
	OutputSyslog = "syslog"

	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

var ErrInvalidOptions = errors.New("invalid logging options")

// Options selects the logger output. Output is OutputStderr, OutputSyslog or a file path.
type Options struct {
	Level  string
	Format string
	Output string
	Tag    string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New returns the logger described by o and the closer of its output.
func New(o Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(o.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
		format = o.Format
	)

	switch o.Output {
	case "", OutputStderr:
		w = os.Stderr
		if format == "" || format == FormatAuto {
			format = FormatJSON
			if isTerminal(os.Stderr) {
				format = FormatText
			}
		}
	case OutputSyslog:
		sw, err := newSyslogWriter(o.Tag)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: syslog: %w", ErrInvalidOptions, err)
		}
		w, closer = sw, sw
		if format == "" || format == FormatAuto {
			format = FormatText
		}
	default:
		fw, err := newRotatingFile(o)
		if err != nil {
			return nil, nil, err
		}
		w, closer = fw, fw
		if format == "" || format == FormatAuto {
			format = FormatJSON
		}
	}

	h, err := handler(w, format, level, o.Output == OutputSyslog)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	return slog.New(h), closer, nil
}

// ParseLevel accepts the slog level names, case insensitive. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return l, fmt.Errorf("%w: level %q", ErrInvalidOptions, s)
	}

	return l, nil
}

func handler(w io.Writer, format string, level slog.Level, dropTime bool) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	if dropTime {
		// syslog stamps every record itself
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}

	switch format {
	case FormatText:
		return slog.NewTextHandler(w, opts), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("%w: format %q", ErrInvalidOptions, format)
	}
}

func newRotatingFile(o Options) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(o.Output), 0o755); err != nil {
		return nil, fmt.Errorf("%w: log directory: %w", ErrInvalidOptions, err)
	}

	return &lumberjack.Logger{
		Filename:   o.Output,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
		Compress:   o.Compress,
		LocalTime:  true,
	}, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
