package harness

import (
	"context"
	"os"
	"time"
)

// Escalation interrupts a child in rounds. For every phase, round i sends
// SIGINT and then waits up to phase*i for the child to exit, so the first
// round of each phase only signals. There is no hard kill: a child that
// survives every round is reported with ErrNotTerminated.
type Escalation struct {
	Rounds int
	Phases []time.Duration

	after func(time.Duration) <-chan time.Time
}

// DefaultEscalation is 10 rounds at 100ms steps followed by 10 rounds at 1s steps.
func DefaultEscalation() Escalation {
	return Escalation{Rounds: 10, Phases: []time.Duration{100 * time.Millisecond, time.Second}}
}

// Stop returns nil once p has exited, ErrNotTerminated if it never does, or
// the context error if ctx ends first.
func (e Escalation) Stop(ctx context.Context, p Process) error {
	after := e.after
	if after == nil {
		after = time.After
	}
	for _, phase := range e.Phases {
		for i := 0; i < e.Rounds; i++ {
			if exited(p) {
				return nil
			}
			if err := p.Signal(os.Interrupt); err != nil {
				return err
			}
			select {
			case <-p.Done():
				return nil
			case <-after(phase * time.Duration(i)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if exited(p) {
		return nil
	}
	return ErrNotTerminated
}
