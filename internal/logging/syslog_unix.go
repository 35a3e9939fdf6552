//go:build !windows && !plan9

package logging

import (
	"io"
	"log/syslog"
)

func newSyslogWriter(tag string) (io.WriteCloser, error) {
	return syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
}
