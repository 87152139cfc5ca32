package mqttclient

import "sync/atomic"

// State is the lifecycle state of a Client.
type State uint32

// Client states. A client moves forward only; Closed is terminal.
const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type connState struct {
	v atomic.Uint32
}

func (s *connState) get() State {
	return State(s.v.Load())
}

func (s *connState) set(to State) {
	s.v.Store(uint32(to))
}

// transition moves from one state to another and reports whether it happened.
func (s *connState) transition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
