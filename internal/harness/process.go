package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// Process is a running child. Stdout, Stderr and ExitCode are only valid once
// Done is closed.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	Done() <-chan struct{}
	ExitCode() int
	Stdout() io.Reader
	Stderr() io.Reader
}

// Spawner starts a child serving backend on port, forwarding args verbatim.
type Spawner interface {
	Spawn(ctx context.Context, backend string, port int, args []string) (Process, error)
}

// ExecSpawner runs `Binary [Prefix...] <backend> <port> [args...]` as a real
// OS process with stdout and stderr captured in memory.
type ExecSpawner struct {
	Binary string
	// Prefix is inserted before the backend name, e.g. "servertest".
	Prefix []string
	// Env is appended to the parent environment.
	Env []string
}

// Spawn starts the child. The process is not tied to ctx: only Stop ends it.
func (s ExecSpawner) Spawn(ctx context.Context, backend string, port int, args []string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Binary == "" {
		return nil, errors.New("exec spawner: binary is required")
	}
	argv := make([]string, 0, len(s.Prefix)+2+len(args))
	argv = append(argv, s.Prefix...)
	argv = append(argv, backend, strconv.Itoa(port))
	argv = append(argv, args...)

	// #nosec G204 -- the binary and arguments come from the harness operator.
	cmd := exec.Command(s.Binary, argv...)
	p := &execProcess{cmd: cmd, done: make(chan struct{}), code: -1}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.Binary, err)
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}
	code   int
}

func (p *execProcess) wait() {
	defer close(p.done)
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.code = 0
	case errors.As(err, &exitErr):
		p.code = exitErr.ExitCode()
	default:
		p.code = -1
	}
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error {
	if err := p.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal pid %d: %w", p.Pid(), err)
	}
	return nil
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	<-p.done
	return p.code
}

func (p *execProcess) Stdout() io.Reader {
	<-p.done
	return bytes.NewReader(p.stdout.Bytes())
}

func (p *execProcess) Stderr() io.Reader {
	<-p.done
	return bytes.NewReader(p.stderr.Bytes())
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
