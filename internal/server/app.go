// Package server assembles the annotator webapp from configuration and runs
// it under the selected backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/hsa-app/internal/annotator"
	"github.com/JakeFAU/hsa-app/internal/api"
	"github.com/JakeFAU/hsa-app/internal/backend"
	"github.com/JakeFAU/hsa-app/internal/clock/system"
	"github.com/JakeFAU/hsa-app/internal/config"
	"github.com/JakeFAU/hsa-app/internal/hash/sha256"
	"github.com/JakeFAU/hsa-app/internal/id/uuid"
	"github.com/JakeFAU/hsa-app/internal/metrics"
	"github.com/JakeFAU/hsa-app/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/hsa-app/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/hsa-app/internal/storage/gcs"
	localstorage "github.com/JakeFAU/hsa-app/internal/storage/local"
	memorystorage "github.com/JakeFAU/hsa-app/internal/storage/memory"
	pgstore "github.com/JakeFAU/hsa-app/internal/storage/postgres"
	"github.com/JakeFAU/hsa-app/web"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	backend   backend.Backend
	storage   *storage.Client
	ledger    *pgstore.AttributeStore
	publisher *gcppublisher.Publisher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.String("backend", cfg.Server.Backend),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("prefix", cfg.App.Prefix),
	)
	metrics.Init()

	var err error
	app.backend, err = backend.Lookup(cfg.Server.Backend, backend.Options{
		ShutdownTimeout: cfg.ShutdownTimeout(),
		Logger:          logger.Named("backend"),
	})
	if err != nil {
		return nil, err
	}

	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, app.closeOnError(ctx, err)
	}
	if err = app.setupDatabase(ctx); err != nil {
		return nil, app.closeOnError(ctx, err)
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, app.closeOnError(ctx, err)
	}

	templates, static := assets(cfg.App)
	deps := api.Deps{
		Blobs:  blobs,
		Hasher: sha256.New(),
		Clock:  system.New(),
		IDGen:  uuid.New(),
		Logger: logger.Named("api"),
	}
	if app.ledger != nil {
		deps.Ledger = app.ledger
	}
	if app.publisher != nil {
		deps.Publisher = app.publisher
	}
	if cfg.App.UploadRPS > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{RPS: cfg.App.UploadRPS, Burst: cfg.App.UploadBurst})
		logger.Info("upload rate limit enabled",
			zap.Float64("rps", cfg.App.UploadRPS),
			zap.Int("burst", cfg.App.UploadBurst),
		)
	}
	app.apiServer, err = api.NewServer(api.Options{
		Prefix:         cfg.App.Prefix,
		Templates:      templates,
		Static:         static,
		Debug:          cfg.App.Debug,
		MaxUploadBytes: cfg.App.MaxUploadBytes,
		Topic:          cfg.PubSub.TopicName,
	}, deps)
	if err != nil {
		return nil, app.closeOnError(ctx, err)
	}
	return app, nil
}

func assets(cfg config.AppConfig) (fs.FS, fs.FS) {
	templates, static := web.Views(), web.Static()
	if cfg.TemplateDir != "" {
		templates = os.DirFS(cfg.TemplateDir)
	}
	if cfg.StaticDir != "" {
		static = os.DirFS(cfg.StaticDir)
	}
	return templates, static
}

func (a *App) setupStorage(ctx context.Context) (annotator.BlobStore, error) {
	switch a.cfg.Storage.Driver {
	case config.StorageDriverGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.StorageDriverMemory:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.ImageDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.ImageDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no db.dsn configured, attribute ledger disabled")
		return nil
	}
	var err error
	a.ledger, err = pgstore.NewAttributeStore(ctx, pgstore.AttributeStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: int32(a.cfg.DB.MaxOpenConns), // #nosec G115 -- small configured pool size
	})
	if err != nil {
		return fmt.Errorf("attribute store init failed: %w", err)
	}
	if err := a.ledger.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("attribute store schema: %w", err)
	}
	a.logger.Info("attribute ledger initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no pubsub.topic_name configured, write notifications disabled")
		return nil
	}
	var err error
	a.publisher, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Run serves until SIGINT/SIGTERM or ctx cancellation, then shuts down
// within server.shutdown_timeout_seconds and releases resources.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen %s: %w", addr, err), a.Close(context.WithoutCancel(ctx)))
	}
	return a.Serve(ctx, ln)
}

// Serve runs the backend on ln until ctx ends, then closes the App.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("http server started",
		zap.String("addr", ln.Addr().String()),
		zap.String("backend", a.backend.Name()),
		zap.String("annotator", "http://"+ln.Addr().String()+a.apiServer.Prefix()+"/annotator?image=example"),
	)
	serveErr := a.backend.Serve(ctx, ln, a.apiServer.Handler())
	if serveErr != nil {
		a.logger.Error("http server error", zap.Error(serveErr))
	}
	return errors.Join(serveErr, a.Close(context.WithoutCancel(ctx)))
}

// Close releases storage, database and Pub/Sub clients.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeOnError(ctx context.Context, err error) error {
	return errors.Join(err, a.Close(ctx))
}
