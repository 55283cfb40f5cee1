package backend

import (
	"context"
	"net"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type h2cBackend struct {
	opts Options
}

func (b *h2cBackend) Name() string { return "h2c" }

func (b *h2cBackend) Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	h2s := &http2.Server{}
	srv := newServer(h2c.NewHandler(h, h2s), b.opts)
	if err := http2.ConfigureServer(srv, h2s); err != nil {
		return err
	}
	return serve(ctx, srv, ln, b.opts)
}
