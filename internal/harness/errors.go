package harness

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means the child exited with code 128; the case is skipped.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrPortInUse means the child exited with code 3; the next port is tried.
	ErrPortInUse = errors.New("port in use")
	// ErrStartupTimeout means the child never accepted connections.
	ErrStartupTimeout = errors.New("server took too long to start up")
	// ErrNoFreePort means every port in the range was taken.
	ErrNoFreePort = errors.New("could not find a free port to test server")
	// ErrNotTerminated means the child outlived every interrupt round.
	ErrNotTerminated = errors.New("server did not terminate")
	// ErrUnexpectedBody means GET /test answered something other than "OK".
	ErrUnexpectedBody = errors.New("unexpected response body")
)

// Exit codes with a meaning to the harness.
const (
	exitPortInUse          = 3
	exitBackendUnavailable = 128
)

// ExitError reports a child that exited during startup with an unexpected code.
type ExitError struct {
	Backend string
	Port    int
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("server %s exited during startup on port %d with code %d", e.Backend, e.Port, e.Code)
}

// LogError is the first child output line containing "error".
type LogError struct {
	Line string
}

func (e *LogError) Error() string {
	return e.Line
}

// classifyExit maps an early exit code to the harness error taxonomy.
func classifyExit(backend string, port, code int) error {
	switch code {
	case exitBackendUnavailable:
		return fmt.Errorf("%s: %w", backend, ErrBackendUnavailable)
	case exitPortInUse:
		return fmt.Errorf("port %d: %w", port, ErrPortInUse)
	default:
		return &ExitError{Backend: backend, Port: port, Code: code}
	}
}
