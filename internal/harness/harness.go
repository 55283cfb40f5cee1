package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbeAttempts = 100
	defaultProbeInterval = 100 * time.Millisecond
	defaultFetchTimeout  = 10 * time.Second
	expectedBody         = "OK"
)

// PortRange is the half-open interval [Low, High) of candidate ports.
type PortRange struct {
	Low  int
	High int
}

// DefaultPortRange is 8800 up to, but excluding, 8900.
func DefaultPortRange() PortRange {
	return PortRange{Low: 8800, High: 8900}
}

// Config tunes a Suite. Zero values select defaults.
type Config struct {
	Ports         PortRange
	ProbeAttempts int
	ProbeInterval time.Duration
	Escalation    Escalation
	// Args are forwarded verbatim to every child.
	Args []string
}

func (c Config) withDefaults() Config {
	if c.Ports.High <= c.Ports.Low {
		c.Ports = DefaultPortRange()
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = defaultProbeAttempts
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.Escalation.Rounds <= 0 || len(c.Escalation.Phases) == 0 {
		c.Escalation = DefaultEscalation()
	}
	return c
}

// Child is one spawned server process and its lifecycle state.
type Child struct {
	Backend string
	Port    int
	State   State

	proc Process
}

// Pid returns the OS process id.
func (c *Child) Pid() int { return c.proc.Pid() }

// ExitCode blocks until the child exits and returns its code.
func (c *Child) ExitCode() int { return c.proc.ExitCode() }

// Stdout blocks until the child exits and returns its captured stdout.
func (c *Child) Stdout() io.Reader { return c.proc.Stdout() }

// Stderr blocks until the child exits and returns its captured stderr.
func (c *Child) Stderr() io.Reader { return c.proc.Stderr() }

func (c *Child) apply(e Event) error {
	next, err := Transition(c.State, e)
	if err != nil {
		return err
	}
	c.State = next
	return nil
}

// CaseResult is the outcome of one backend's conformance case.
type CaseResult struct {
	Backend  string
	Port     int
	Skipped  bool
	Body     string
	Warnings []string
	Err      error
}

// Passed reports whether the case ran and succeeded.
func (r CaseResult) Passed() bool {
	return !r.Skipped && r.Err == nil
}

// Prober reports whether addr accepts TCP connections.
type Prober func(ctx context.Context, addr string) bool

// Suite runs conformance cases one at a time.
type Suite struct {
	cfg     Config
	spawner Spawner
	logger  *zap.Logger

	// Warn receives warnings as they are found (skips and "warning" log
	// lines). They are also collected in CaseResult.Warnings.
	Warn func(msg string)

	probe  Prober
	fetch  func(ctx context.Context, port int) (string, error)
	client *http.Client
}

// New builds a Suite around spawner.
func New(cfg Config, spawner Spawner, logger *zap.Logger) *Suite {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &Suite{
		cfg:     cfg,
		spawner: spawner,
		logger:  logger,
		client:  &http.Client{Timeout: defaultFetchTimeout},
	}
	s.probe = dialProbe(cfg.ProbeInterval)
	s.fetch = s.fetchTest
	return s
}

// Config returns the effective configuration.
func (s *Suite) Config() Config {
	return s.cfg
}

// Start spawns a child for backend on the first usable port and waits until
// it accepts connections. A child that exits with code 3 is replaced by one
// on the next port. The returned error wraps ErrBackendUnavailable,
// ErrStartupTimeout or ErrNoFreePort, or is an *ExitError.
func (s *Suite) Start(ctx context.Context, backend string) (*Child, error) {
	for port := s.cfg.Ports.Low; port < s.cfg.Ports.High; port++ {
		proc, err := s.spawner.Spawn(ctx, backend, port, s.cfg.Args)
		if err != nil {
			return nil, fmt.Errorf("spawn %s on port %d: %w", backend, port, err)
		}
		child := &Child{Backend: backend, Port: port, State: StateStarting, proc: proc}
		log := s.logger.With(zap.String("backend", backend), zap.Int("port", port))
		log.Debug("child spawned", zap.Int("pid", proc.Pid()))

		ready, err := s.awaitReady(ctx, child)
		if err != nil {
			return child, errors.Join(err, s.Stop(context.WithoutCancel(ctx), child))
		}
		if ready {
			if err := child.apply(EventProbeSucceeded); err != nil {
				return child, err
			}
			log.Debug("child ready")
			return child, nil
		}

		if !exited(proc) {
			if err := child.apply(EventProbesExhausted); err != nil {
				return child, err
			}
			stopErr := s.terminate(ctx, child)
			return child, errors.Join(fmt.Errorf("%s on port %d: %w", backend, port, ErrStartupTimeout), stopErr)
		}

		if err := child.apply(EventExited); err != nil {
			return child, err
		}
		err = classifyExit(backend, port, proc.ExitCode())
		if errors.Is(err, ErrPortInUse) {
			log.Debug("port in use, trying next")
			continue
		}
		return child, err
	}
	return nil, ErrNoFreePort
}

// awaitReady sleeps then probes, up to ProbeAttempts times. It stops early
// when the child exits; a successful probe only counts while the child is
// still running, since another process may own the port.
func (s *Suite) awaitReady(ctx context.Context, child *Child) (bool, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(child.Port))
	timer := time.NewTimer(s.cfg.ProbeInterval)
	defer timer.Stop()
	for i := 0; i < s.cfg.ProbeAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if i > 0 {
			timer.Reset(s.cfg.ProbeInterval)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
		ok := s.probe(ctx, addr)
		if exited(child.proc) {
			return false, nil
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Stop interrupts a running child until it exits.
func (s *Suite) Stop(ctx context.Context, child *Child) error {
	if child.State == StateStopped || child.State == StateFailed {
		return nil
	}
	if err := child.apply(EventStopRequested); err != nil {
		return err
	}
	return s.terminate(ctx, child)
}

func (s *Suite) terminate(ctx context.Context, child *Child) error {
	err := s.cfg.Escalation.Stop(ctx, child.proc)
	if errors.Is(err, ErrNotTerminated) {
		if terr := child.apply(EventNotTerminated); terr != nil {
			return errors.Join(err, terr)
		}
		return fmt.Errorf("%s (pid %d): %w", child.Backend, child.Pid(), err)
	}
	if err != nil {
		return err
	}
	return child.apply(EventExited)
}

// RunCase performs one full conformance case for backend: start, fetch
// /test, stop, then scan the child's output.
func (s *Suite) RunCase(ctx context.Context, backend string) CaseResult {
	res := CaseResult{Backend: backend}
	child, err := s.Start(ctx, backend)
	if child != nil {
		res.Port = child.Port
	}
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		res.Skipped = true
		s.warn(&res, fmt.Sprintf("skipping %q test (backend unavailable)", backend))
		return res
	case err != nil:
		res.Err = err
		return res
	}

	body, fetchErr := s.fetch(ctx, child.Port)
	res.Body = body
	if fetchErr == nil && body != expectedBody {
		fetchErr = fmt.Errorf("%w: %q", ErrUnexpectedBody, body)
	}

	stopErr := s.Stop(ctx, child)
	var logErr error
	if child.State == StateStopped {
		var warnings []string
		warnings, logErr = ClassifyLogs(child.Stdout(), child.Stderr())
		for _, w := range warnings {
			s.warn(&res, w)
		}
	}
	res.Err = errors.Join(fetchErr, stopErr, logErr)
	return res
}

// Run executes RunCase for each backend in order.
func (s *Suite) Run(ctx context.Context, backends []string) []CaseResult {
	results := make([]CaseResult, 0, len(backends))
	for _, b := range backends {
		res := s.RunCase(ctx, b)
		s.logger.Info("case finished",
			zap.String("backend", b),
			zap.Int("port", res.Port),
			zap.Bool("passed", res.Passed()),
			zap.Bool("skipped", res.Skipped),
		)
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func (s *Suite) warn(res *CaseResult, msg string) {
	res.Warnings = append(res.Warnings, msg)
	if s.Warn != nil {
		s.Warn(msg)
	}
}

func (s *Suite) fetchTest(ctx context.Context, port int) (string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/test", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch /test: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read /test: %w", err)
	}
	return string(body), nil
}

func dialProbe(timeout time.Duration) Prober {
	return func(ctx context.Context, addr string) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}
