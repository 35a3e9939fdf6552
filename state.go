package daemonize

import "sync/atomic"

// State is the lifecycle position of a supervised process. It only ever moves forward.
type State int32

const (
	StateForeground State = iota
	StateForked
	StateDetached
	StateSanitized
	StateLocked
	StateRunning
	StateShuttingDown
	StateTerminated
)

var stateNames = [...]string{
	StateForeground:   "foreground",
	StateForked:       "forked",
	StateDetached:     "detached",
	StateSanitized:    "sanitized",
	StateLocked:       "locked",
	StateRunning:      "running",
	StateShuttingDown: "shutting_down",
	StateTerminated:   "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

type stateMachine struct {
	current atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.current.Load())
}

// advance moves to next and reports whether it did. Staying put or going back is refused.
func (m *stateMachine) advance(next State) bool {
	for {
		cur := m.current.Load()
		if State(cur) >= next {
			return false
		}
		if m.current.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
