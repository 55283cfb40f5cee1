package harness

import (
	"errors"
	"fmt"
)

// State is the lifecycle of one child process.
type State int

const (
	StateStarting State = iota
	StateReady
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives State transitions.
type Event int

const (
	// EventProbeSucceeded: the port accepted a TCP connection.
	EventProbeSucceeded Event = iota
	// EventExited: the child process exited.
	EventExited
	// EventProbesExhausted: readiness polling gave up while the child ran.
	EventProbesExhausted
	// EventStopRequested: the harness began termination.
	EventStopRequested
	// EventNotTerminated: termination rounds ran out.
	EventNotTerminated
)

func (e Event) String() string {
	switch e {
	case EventProbeSucceeded:
		return "probe_succeeded"
	case EventExited:
		return "exited"
	case EventProbesExhausted:
		return "probes_exhausted"
	case EventStopRequested:
		return "stop_requested"
	case EventNotTerminated:
		return "not_terminated"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned for events that do not apply to a state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Transition returns the state reached from s on e.
func Transition(s State, e Event) (State, error) {
	switch s {
	case StateStarting:
		switch e {
		case EventProbeSucceeded:
			return StateReady, nil
		case EventExited:
			return StateFailed, nil
		case EventProbesExhausted, EventStopRequested:
			return StateStopping, nil
		}
	case StateReady:
		switch e {
		case EventStopRequested:
			return StateStopping, nil
		case EventExited:
			return StateStopped, nil
		}
	case StateStopping:
		switch e {
		case EventExited:
			return StateStopped, nil
		case EventNotTerminated:
			return StateFailed, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
}
