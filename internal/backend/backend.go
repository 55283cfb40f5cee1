package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned by Lookup for names without a compiled-in backend.
var ErrUnavailable = errors.New("backend unavailable")

const (
	defaultShutdownTimeout   = 5 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultMaxConns          = 32
)

// Backend serves HTTP on a listener until ctx is cancelled.
type Backend interface {
	Name() string
	Serve(ctx context.Context, ln net.Listener, h http.Handler) error
}

// Options tunes backend construction. Zero values select defaults.
type Options struct {
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	// MaxConns bounds concurrent connections for the pooled backend.
	MaxConns int
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}
	if o.ReadHeaderTimeout <= 0 {
		o.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if o.MaxConns <= 0 {
		o.MaxConns = defaultMaxConns
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type factory func(Options) Backend

var registry = map[string]factory{
	"nethttp": func(o Options) Backend { return &netHTTP{opts: o} },
	"pooled":  func(o Options) Backend { return &pooled{opts: o} },
	"h2c":     func(o Options) Backend { return &h2cBackend{opts: o} },
}

// Lookup returns the named backend or ErrUnavailable.
func Lookup(name string, opts Options) (Backend, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnavailable)
	}
	return f(opts.withDefaults()), nil
}

// Names lists the compiled-in backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// serve runs srv on ln until ctx is cancelled or the server fails, then
// performs a bounded graceful shutdown.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, opts Options) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	opts.Logger.Info("shutdown initiated", zap.String("addr", ln.Addr().String()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func newServer(h http.Handler, opts Options) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
}
