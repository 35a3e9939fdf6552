//go:build windows || plan9

package logging

import (
	"errors"
	"io"
)

func newSyslogWriter(string) (io.WriteCloser, error) {
	return nil, errors.ErrUnsupported
}
