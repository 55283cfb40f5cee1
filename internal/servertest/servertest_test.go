package servertest

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandlerServesTest(t *testing.T) {
	t.Parallel()

	h, err := NewHandler(zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, TestBody, rec.Body.String())
}

func TestHandlerMountsApp(t *testing.T) {
	t.Parallel()

	h, err := NewHandler(zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Prefix+"/annotator?image=example", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "example")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunUsage(t *testing.T) {
	t.Parallel()

	cases := [][]string{
		nil,
		{"nethttp"},
		{"nethttp", "not-a-port"},
		{"nethttp", "0"},
		{"nethttp", "70000"},
	}
	for _, args := range cases {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, io.Discard, &stderr)
		require.Equal(t, ExitUsage, code, "args %v", args)
		require.Contains(t, stderr.String(), "usage")
	}
}

func TestRunUnknownBackend(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"bjoern", "8800"}, &stdout, io.Discard)
	require.Equal(t, ExitBackendUnavailable, code)
	require.Contains(t, stdout.String(), "unavailable")
}

func TestRunPortInUse(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	code := Run(context.Background(), []string{"nethttp", strconv.Itoa(port)}, io.Discard, io.Discard)
	require.Equal(t, ExitPortInUse, code)
}

func TestRunServesUntilCancelled(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	stderr := &syncBuffer{}
	done := make(chan int, 1)
	go func() {
		done <- Run(ctx, []string{"pooled", strconv.Itoa(port), "--verbose", "--unknown"}, io.Discard, stderr)
	}()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/test"
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:gosec // test server on loopback
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return true
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, TestBody, body)

	cancel()
	select {
	case code := <-done:
		require.Equal(t, ExitOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	logs := strings.ToLower(stderr.String())
	require.Contains(t, logs, "listening")
	require.Contains(t, logs, "extra argument ignored")
	require.NotContains(t, logs, "error")
	require.NotContains(t, logs, "warning")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
