package backend

import (
	"context"
	"net"
	"net/http"
)

type netHTTP struct {
	opts Options
}

func (b *netHTTP) Name() string { return "nethttp" }

func (b *netHTTP) Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	return serve(ctx, newServer(h, b.opts), ln, b.opts)
}
