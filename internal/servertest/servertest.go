// Package servertest is the child side of the server conformance harness. Run
// starts the named backend on 127.0.0.1:<port>, serves GET /test with "OK"
// next to the annotator app, and reports startup problems through its exit
// code so the parent can tell skips and port clashes from failures.
package servertest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/hsa-app/internal/api"
	"github.com/JakeFAU/hsa-app/internal/backend"
	"github.com/JakeFAU/hsa-app/internal/clock/system"
	"github.com/JakeFAU/hsa-app/internal/hash/sha256"
	"github.com/JakeFAU/hsa-app/internal/id/uuid"
	"github.com/JakeFAU/hsa-app/internal/logging"
	memorystorage "github.com/JakeFAU/hsa-app/internal/storage/memory"
	"github.com/JakeFAU/hsa-app/web"
)

// Exit codes understood by the harness.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitUsage              = 2
	ExitPortInUse          = 3
	ExitBackendUnavailable = 128
)

// Prefix is where the annotator app is mounted in the child.
const Prefix = "/hsa-app"

// TestBody is the exact response of GET /test.
const TestBody = "OK"

// Run implements `servertest <backend> <port> [args...]` and returns the
// process exit code. It blocks until ctx is cancelled (normally by SIGINT).
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "usage: servertest <backend> <port> [args...]")
		return ExitUsage
	}
	name, extra := args[0], args[2:]
	port, err := strconv.Atoi(args[1])
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintf(stderr, "usage: invalid port %q\n", args[1])
		return ExitUsage
	}

	level := zapcore.InfoLevel
	for _, arg := range extra {
		if arg == "-v" || arg == "--verbose" {
			level = zapcore.DebugLevel
		}
	}
	logger := logging.NewConsole(stderr, level).Named("servertest")
	defer func() { _ = logger.Sync() }()
	for _, arg := range extra {
		logger.Debug("extra argument ignored", zap.String("arg", arg))
	}

	b, err := backend.Lookup(name, backend.Options{Logger: logger.Named(name)})
	if err != nil {
		fmt.Fprintf(stdout, "backend %q unavailable\n", name)
		return ExitBackendUnavailable
	}

	handler, err := NewHandler(logger)
	if err != nil {
		logger.Error("handler setup failed", zap.Error(err))
		return ExitFailure
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			fmt.Fprintf(stdout, "port %d in use\n", port)
			return ExitPortInUse
		}
		logger.Error("listen failed", zap.String("addr", addr), zap.Error(err))
		return ExitFailure
	}

	logger.Info("listening", zap.String("backend", b.Name()), zap.String("addr", addr))
	if err := b.Serve(ctx, ln, handler); err != nil {
		logger.Error("serve failed", zap.Error(err))
		return ExitFailure
	}
	logger.Info("stopped", zap.String("backend", b.Name()))
	return ExitOK
}

// NewHandler builds the child's routes: GET /test plus the annotator app
// backed by an in-memory store and the embedded assets.
func NewHandler(logger *zap.Logger) (http.Handler, error) {
	app, err := api.NewServer(api.Options{
		Prefix:    Prefix,
		Templates: web.Views(),
		Static:    web.Static(),
	}, api.Deps{
		Blobs:  memorystorage.NewBlobStore(),
		Hasher: sha256.New(),
		Clock:  system.New(),
		IDGen:  uuid.New(),
		Logger: logger.Named("api"),
	})
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}

	r := chi.NewRouter()
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, TestBody)
	})
	r.Mount("/", app.Handler())
	return r, nil
}
