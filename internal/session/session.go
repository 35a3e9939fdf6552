//go:build unix

// Package session detaches a process from its controlling terminal by making it the leader of a new session.
package session

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Detacher starts a new session for the calling process.
type Detacher struct{}

// Detach calls setsid(2). A process that already leads its own session is left as is.
func (Detacher) Detach() error {
	if IsLeader() {
		return nil
	}

	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid: %w", err)
	}

	return nil
}

// IsLeader reports whether the calling process is a session leader.
func IsLeader() bool {
	sid, err := unix.Getsid(0)
	return err == nil && sid == unix.Getpid()
}
