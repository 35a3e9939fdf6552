// Package forker splits a process into a short-lived parent and a continuing child.
//
// The Go runtime is multithreaded, so fork(2) without exec is not an option. The child is instead a fresh copy of
// the same executable, started with the same arguments and a marker variable in its environment. Calling Fork again
// in that copy reports the Child role.
package forker

import (
	"os"
	"strings"
)

// DefaultMarker is the environment variable that tells a re-executed process it is the child.
const DefaultMarker = "_DAEMONIZE_CHILD"

const markerValue = "1"

// Role tells the caller which side of the fork it is on.
type Role int

const (
	Parent Role = iota
	Child
)

func (r Role) String() string {
	switch r {
	case Parent:
		return "parent"
	case Child:
		return "child"
	default:
		return "unknown"
	}
}

// Forker starts the child copy of the current process.
type Forker struct {
	marker string
}

// New returns a Forker that uses marker as the child marker variable. An empty marker selects DefaultMarker.
func New(marker string) *Forker {
	if marker == "" {
		marker = DefaultMarker
	}

	return &Forker{marker: marker}
}

// Marker returns the environment variable name used to recognise the child.
func (f *Forker) Marker() string { return f.marker }

// IsChild reports whether the current process was started by Fork.
func (f *Forker) IsChild() bool {
	return os.Getenv(f.marker) == markerValue
}

// Fork returns Child (and pid 0) when the current process is the re-executed copy, removing the marker so that
// processes spawned later do not inherit it. Otherwise it starts the copy, carrying over the standard streams and
// the descriptors in keep at their existing numbers, and returns Parent along with the child's pid.
func (f *Forker) Fork(keep []int) (Role, int, error) {
	if f.IsChild() {
		_ = os.Unsetenv(f.marker)
		return Child, 0, nil
	}

	pid, err := f.spawn(keep)
	if err != nil {
		return Parent, 0, err
	}

	return Parent, pid, nil
}

// childEnv returns env without any previous marker entries, plus the marker set for the child.
func childEnv(env []string, marker string) []string {
	prefix := marker + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		out = append(out, kv)
	}

	return append(out, prefix+markerValue)
}
