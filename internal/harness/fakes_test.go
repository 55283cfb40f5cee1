package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// fakeProcess exits on its own (exitNow) or after stopAfter interrupts.
// stopAfter == 0 means interrupts are ignored.
type fakeProcess struct {
	pid       int
	code      int
	stdout    string
	stderr    string
	stopAfter int

	mu       sync.Mutex
	signals  int
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) exit(code int) {
	p.doneOnce.Do(func() {
		p.code = code
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Signal(sig os.Signal) error {
	if sig != os.Interrupt {
		return fmt.Errorf("unexpected signal %v", sig)
	}
	p.mu.Lock()
	p.signals++
	n := p.signals
	p.mu.Unlock()
	if p.stopAfter > 0 && n >= p.stopAfter {
		p.exit(0)
	}
	return nil
}

func (p *fakeProcess) signalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signals
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	<-p.done
	return p.code
}

func (p *fakeProcess) Stdout() io.Reader {
	<-p.done
	return strings.NewReader(p.stdout)
}

func (p *fakeProcess) Stderr() io.Reader {
	<-p.done
	return strings.NewReader(p.stderr)
}

// fakeSpawner builds one process per spawn via script and records calls.
type fakeSpawner struct {
	script func(port int) *fakeProcess

	mu    sync.Mutex
	calls []spawnCall
	procs []*fakeProcess
}

type spawnCall struct {
	backend string
	port    int
	args    []string
}

func (s *fakeSpawner) Spawn(_ context.Context, backend string, port int, args []string) (Process, error) {
	p := s.script(port)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spawnCall{backend: backend, port: port, args: args})
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) spawned() []spawnCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spawnCall(nil), s.calls...)
}

// exitedWith returns a process that has already exited with code.
func exitedWith(port, code int) *fakeProcess {
	p := newFakeProcess(1000 + port)
	p.exit(code)
	return p
}

// running returns a process that stops on the first interrupt.
func running(port int) *fakeProcess {
	p := newFakeProcess(1000 + port)
	p.stopAfter = 1
	return p
}
