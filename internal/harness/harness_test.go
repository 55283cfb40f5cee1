package harness

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConfig() Config {
	return Config{
		Ports:         PortRange{Low: 8800, High: 8900},
		ProbeAttempts: 5,
		ProbeInterval: time.Millisecond,
		Escalation:    Escalation{Rounds: 3, Phases: []time.Duration{time.Millisecond, 2 * time.Millisecond}},
	}
}

// newFakeSuite wires a Suite whose probe succeeds only on readyPorts and
// whose fetch returns body.
func newFakeSuite(cfg Config, sp *fakeSpawner, body string, readyPorts ...int) (*Suite, *[]string) {
	s := New(cfg, sp, zap.NewNop())
	ready := make(map[string]bool, len(readyPorts))
	for _, p := range readyPorts {
		ready["127.0.0.1:"+strconv.Itoa(p)] = true
	}
	s.probe = func(_ context.Context, addr string) bool { return ready[addr] }
	s.fetch = func(context.Context, int) (string, error) { return body, nil }
	var warnings []string
	s.Warn = func(msg string) { warnings = append(warnings, msg) }
	return s, &warnings
}

func TestRunCasePasses(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: running}
	s, warnings := newFakeSuite(fastConfig(), sp, "OK", 8800)
	s.cfg.Args = []string{"--verbose"}

	res := s.RunCase(context.Background(), "nethttp")

	require.NoError(t, res.Err)
	require.True(t, res.Passed())
	require.Equal(t, 8800, res.Port)
	require.Equal(t, "OK", res.Body)
	require.Empty(t, *warnings)

	calls := sp.spawned()
	require.Len(t, calls, 1)
	require.Equal(t, spawnCall{backend: "nethttp", port: 8800, args: []string{"--verbose"}}, calls[0])
}

func TestRunCaseSkipsUnavailableBackend(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: func(port int) *fakeProcess { return exitedWith(port, 128) }}
	s, warnings := newFakeSuite(fastConfig(), sp, "OK")

	res := s.RunCase(context.Background(), "bjoern")

	require.True(t, res.Skipped)
	require.NoError(t, res.Err)
	require.False(t, res.Passed())
	require.Len(t, *warnings, 1)
	require.Contains(t, (*warnings)[0], "bjoern")
	require.Equal(t, *warnings, res.Warnings)
	require.Len(t, sp.spawned(), 1)
}

func TestStartRetriesNextPortWhenInUse(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: func(port int) *fakeProcess {
		if port == 8800 {
			return exitedWith(port, 3)
		}
		return running(port)
	}}
	// The probe also succeeds on 8800: another process owns it.
	s, _ := newFakeSuite(fastConfig(), sp, "OK", 8800, 8801)

	res := s.RunCase(context.Background(), "pooled")

	require.NoError(t, res.Err)
	require.Equal(t, 8801, res.Port)
	calls := sp.spawned()
	require.Len(t, calls, 2)
	require.Equal(t, 8800, calls[0].port)
	require.Equal(t, 8801, calls[1].port)
}

func TestStartTimesOutWhileChildRuns(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: running}
	s, _ := newFakeSuite(fastConfig(), sp, "OK")

	child, err := s.Start(context.Background(), "h2c")

	require.ErrorIs(t, err, ErrStartupTimeout)
	require.Contains(t, err.Error(), "took too long to start")
	require.NotNil(t, child)
	require.Equal(t, StateStopped, child.State)
	require.Equal(t, 1, sp.procs[0].signalCount())
}

func TestStartNoFreePort(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Ports = PortRange{Low: 8800, High: 8803}
	sp := &fakeSpawner{script: func(port int) *fakeProcess { return exitedWith(port, 3) }}
	s, _ := newFakeSuite(cfg, sp, "OK")

	res := s.RunCase(context.Background(), "nethttp")

	require.ErrorIs(t, res.Err, ErrNoFreePort)
	require.Equal(t, "could not find a free port to test server", res.Err.Error())
	require.Len(t, sp.spawned(), 3)
}

func TestStartFatalExitCode(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: func(port int) *fakeProcess { return exitedWith(port, 1) }}
	s, _ := newFakeSuite(fastConfig(), sp, "OK")

	child, err := s.Start(context.Background(), "nethttp")

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.Code)
	require.Equal(t, 8800, exitErr.Port)
	require.Equal(t, StateFailed, child.State)
	require.Len(t, sp.spawned(), 1)
}

func TestStartHonorsContext(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: running}
	s, _ := newFakeSuite(fastConfig(), sp, "OK")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	child, err := s.Start(ctx, "nethttp")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateStopped, child.State)
}

func TestRunCaseFailsOnErrorLine(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: func(port int) *fakeProcess {
		p := running(port)
		p.stdout = "Listening on 127.0.0.1\n"
		p.stderr = "INFO ok\n  ERROR: socket exploded  \nerror: second\n"
		return p
	}}
	s, _ := newFakeSuite(fastConfig(), sp, "OK", 8800)

	res := s.RunCase(context.Background(), "nethttp")

	var logErr *LogError
	require.ErrorAs(t, res.Err, &logErr)
	require.Equal(t, "ERROR: socket exploded", logErr.Line)
}

func TestRunCaseReportsWarningsAndPasses(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: func(port int) *fakeProcess {
		p := running(port)
		p.stderr = "DeprecationWarning: old api (error-prone)\n"
		return p
	}}
	s, warnings := newFakeSuite(fastConfig(), sp, "OK", 8800)

	res := s.RunCase(context.Background(), "nethttp")

	require.NoError(t, res.Err)
	require.Equal(t, []string{"DeprecationWarning: old api (error-prone)"}, *warnings)
}

func TestRunCaseUnexpectedBody(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: running}
	s, _ := newFakeSuite(fastConfig(), sp, "Not Found", 8800)

	res := s.RunCase(context.Background(), "nethttp")

	require.ErrorIs(t, res.Err, ErrUnexpectedBody)
	require.Equal(t, "Not Found", res.Body)
}

func TestRunCaseFetchFailure(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: running}
	s, _ := newFakeSuite(fastConfig(), sp, "", 8800)
	s.fetch = func(context.Context, int) (string, error) { return "", errors.New("connection reset") }

	res := s.RunCase(context.Background(), "nethttp")

	require.ErrorContains(t, res.Err, "connection reset")
	require.Equal(t, 1, sp.procs[0].signalCount())
}

func TestRunCaseStubbornChild(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: func(port int) *fakeProcess { return newFakeProcess(port) }}
	s, _ := newFakeSuite(fastConfig(), sp, "OK", 8800)

	res := s.RunCase(context.Background(), "nethttp")

	require.ErrorIs(t, res.Err, ErrNotTerminated)
	require.Equal(t, 6, sp.procs[0].signalCount())
}

func TestRunStopsAfterCancellation(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: running}
	s, _ := newFakeSuite(fastConfig(), sp, "OK", 8800)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := s.Run(ctx, []string{"nethttp", "pooled"})
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
}

func TestRunAllBackends(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{script: func(port int) *fakeProcess { return running(port) }}
	s, _ := newFakeSuite(fastConfig(), sp, "OK", 8800)

	results := s.Run(context.Background(), []string{"nethttp", "pooled", "h2c"})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Passed(), r.Backend)
		assert.Equal(t, 8800, r.Port)
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := New(Config{}, &fakeSpawner{}, nil).Config()
	require.Equal(t, DefaultPortRange(), cfg.Ports)
	require.Equal(t, 100, cfg.ProbeAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.ProbeInterval)
	require.Equal(t, DefaultEscalation().Rounds, cfg.Escalation.Rounds)
	require.Equal(t, []time.Duration{100 * time.Millisecond, time.Second}, cfg.Escalation.Phases)
}

func TestClassifyExit(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, classifyExit("x", 8800, 128), ErrBackendUnavailable)
	require.ErrorIs(t, classifyExit("x", 8800, 3), ErrPortInUse)

	var exitErr *ExitError
	require.ErrorAs(t, classifyExit("x", 8800, 2), &exitErr)
	require.Contains(t, exitErr.Error(), "exited during startup")
	require.ErrorAs(t, classifyExit("x", 8800, -1), &exitErr)
}
