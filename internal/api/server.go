package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/hsa-app/internal/annotator"
	"github.com/JakeFAU/hsa-app/internal/metrics"
)

const (
	defaultMaxUploadBytes = 64 << 20
	defaultRequestTimeout = 60 * time.Second
)

// Options configures the application surface. It replaces the process-wide
// template path and debug switch with per-server values.
type Options struct {
	// Prefix is the mount point of the application routes ("" mounts at root).
	Prefix string
	// Templates holds apps/annotator.html.tpl.
	Templates fs.FS
	// Static is served under {Prefix}/static/.
	Static fs.FS
	// Debug re-parses templates on every request.
	Debug          bool
	MaxUploadBytes int64
	RequestTimeout time.Duration
	// Topic receives write notifications when a Publisher is configured.
	Topic string
}

// Deps are the collaborators behind the image routes. Ledger, Publisher and
// Limiter are optional.
type Deps struct {
	Blobs     annotator.BlobStore
	Ledger    annotator.WriteLedger
	Publisher annotator.Publisher
	Hasher    annotator.Hasher
	Clock     annotator.Clock
	IDGen     annotator.IDGenerator
	Limiter   annotator.UploadLimiter
	Logger    *zap.Logger
}

// Server wires HTTP handlers to the blob store and notification sinks.
type Server struct {
	router    chi.Router
	opts      Options
	deps      Deps
	logger    *zap.Logger
	templates *templateSet
}

// NewServer constructs a Server with middleware and routes. Outside debug
// mode the annotator template is parsed here so a broken template fails fast.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Blobs == nil {
		return nil, errors.New("api: blob store is required")
	}
	if deps.Hasher == nil || deps.Clock == nil || deps.IDGen == nil {
		return nil, errors.New("api: hasher, clock and id generator are required")
	}
	if opts.Templates == nil || opts.Static == nil {
		return nil, errors.New("api: template and static filesystems are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	opts.Prefix = normalizePrefix(opts.Prefix)

	templates, err := newTemplateSet(opts.Templates, opts.Debug)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:      opts,
		deps:      deps,
		logger:    deps.Logger,
		templates: templates,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	if opts.Prefix == "" {
		s.mountApp(r)
	} else {
		r.Route(opts.Prefix, s.mountApp)
	}

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Prefix reports the normalized mount point.
func (s *Server) Prefix() string {
	return s.opts.Prefix
}

func (s *Server) mountApp(r chi.Router) {
	static := http.StripPrefix(s.opts.Prefix+"/static", http.FileServer(http.FS(s.opts.Static)))
	r.Handle("/static/*", static)
	r.Get("/annotator", s.annotator)
	r.Get("/images/{name}", s.getImage)
	r.Post("/images/{name}", s.putImage)
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("proto", r.Proto),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
