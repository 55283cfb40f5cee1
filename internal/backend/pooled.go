package backend

import (
	"context"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// pooled caps concurrently served connections; further connections wait in
// the kernel accept queue until a slot frees up.
type pooled struct {
	opts Options
}

func (b *pooled) Name() string { return "pooled" }

func (b *pooled) Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	b.opts.Logger.Debug("connection pool configured", zap.Int("max_conns", b.opts.MaxConns))
	return serve(ctx, newServer(h, b.opts), netutil.LimitListener(ln, b.opts.MaxConns), b.opts)
}
