// Package server builds the book service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/api"
	"github.com/JakeFAU/wpchain/internal/cache"
	filecache "github.com/JakeFAU/wpchain/internal/cache/file"
	gcscache "github.com/JakeFAU/wpchain/internal/cache/gcs"
	memorycache "github.com/JakeFAU/wpchain/internal/cache/memory"
	pgcache "github.com/JakeFAU/wpchain/internal/cache/postgres"
	"github.com/JakeFAU/wpchain/internal/clock/system"
	"github.com/JakeFAU/wpchain/internal/config"
	"github.com/JakeFAU/wpchain/internal/crawler"
	collyfetcher "github.com/JakeFAU/wpchain/internal/fetcher/colly"
	"github.com/JakeFAU/wpchain/internal/fetcher/ratelimit"
	"github.com/JakeFAU/wpchain/internal/id/uuid"
	"github.com/JakeFAU/wpchain/internal/job"
	memorypublisher "github.com/JakeFAU/wpchain/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/wpchain/internal/publisher/pubsub"
	"github.com/JakeFAU/wpchain/internal/worker"
)

// notificationHistory bounds the in-memory publisher.
const notificationHistory = 1024

type closablePublisher interface {
	job.Publisher
	Close() error
}

// App contains the service's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	pool      *worker.Pool
	jobs      *job.Manager
	store     cache.Storage

	publisher    closablePublisher
	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	pgStore      *pgcache.Store

	stopOnce sync.Once
	stopCh   chan struct{}
}

// CrawlerConfig maps service configuration onto the crawl engine.
func CrawlerConfig(cfg *config.Config) crawler.Config {
	return crawler.Config{
		Source:       crawler.Source(cfg.Crawler.Source),
		MaxAttempts:  cfg.Crawler.MaxAttempts,
		BackoffStep:  cfg.BackoffStep(),
		MaxRedirects: cfg.Crawler.MaxRedirects,
	}
}

// NewFetcher builds the HTTP fetcher described by cfg. When a request rate is
// configured, the fetcher is throttled by a limiter shared by every crawl
// using it.
func NewFetcher(cfg *config.Config) crawler.Fetcher {
	base := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	if cfg.Crawler.RequestsPerSecond <= 0 {
		return base
	}
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Crawler.RequestsPerSecond,
		Burst: cfg.Crawler.Burst,
	})
	return ratelimit.Wrap(base, limiter)
}

// NewCrawlFunc returns a job.CrawlFunc running one engine per call.
func NewCrawlFunc(cfg crawler.Config, fetcher crawler.Fetcher, logger *zap.Logger) job.CrawlFunc {
	return func(ctx context.Context, firstURL string, handler crawler.Handler) error {
		return crawler.Dump(ctx, cfg, fetcher, firstURL, handler, logger)
	}
}

// Build creates the service's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	logger.Info("building service dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("source", cfg.Crawler.Source),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	var err error
	app.store, err = setupCache(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	app.publisher, err = setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.pool = worker.NewPool(cfg.Workers.Concurrency, cfg.Workers.QueueDepth, logger)
	crawl := NewCrawlFunc(CrawlerConfig(cfg), NewFetcher(cfg), logger)
	app.jobs = job.NewManager(
		job.Config{
			FailedGrace: cfg.FailedGrace(),
			ReadyGrace:  cfg.ReadyGrace(),
			Topic:       cfg.PubSub.TopicName,
		},
		crawl,
		app.pool,
		app.store,
		app.publisher,
		system.New(),
		uuid.New(),
		logger,
	)
	app.apiServer = api.NewServer(app.jobs, app.RequestStop, 2*cfg.HTTPTimeout(), logger.Named("api"))
	return app, nil
}

func setupCache(ctx context.Context, app *App) (cache.Storage, error) {
	c := app.cfg.Cache
	switch c.Backend {
	case config.CacheFile:
		app.logger.Info("using file cache backend", zap.String("dir", c.Dir))
		store, err := filecache.New(filecache.Config{BaseDir: c.Dir})
		if err != nil {
			return nil, fmt.Errorf("file cache init failed: %w", err)
		}
		return store, nil
	case config.CacheGCS:
		app.logger.Info("using GCS cache backend", zap.String("bucket", c.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcscache.New(client, gcscache.Config{Bucket: c.GCSBucket, Prefix: c.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs cache init failed: %w", err)
		}
		return store, nil
	case config.CachePostgres:
		app.logger.Info("using postgres cache backend", zap.String("table", c.PostgresTable))
		store, err := pgcache.New(ctx, pgcache.Config{DSN: c.PostgresDSN, Table: c.PostgresTable})
		if err != nil {
			return nil, fmt.Errorf("postgres cache init failed: %w", err)
		}
		app.pgStore = store
		return store, nil
	default:
		app.logger.Info("using in-memory cache backend")
		return memorycache.New(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (closablePublisher, error) {
	ps := app.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(notificationHistory, app.logger), nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return gcppublisher.New(client.Topic(ps.TopicName)), nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Jobs exposes the job manager.
func (a *App) Jobs() *job.Manager {
	return a.jobs
}

// RequestStop asks Run to shut down. It is safe to call more than once.
func (a *App) RequestStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Run serves HTTP and runs the worker pool until ctx ends, a signal arrives,
// or RequestStop is called.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		a.pool.Run(poolCtx)
	}()
	a.pool.Every(poolCtx, a.cfg.SweepInterval(), func(context.Context) {
		if n := a.jobs.Sweep(); n > 0 {
			a.logger.Debug("eviction sweep", zap.Int("purged", n))
		}
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated", zap.String("reason", "signal"))
	case <-a.stopCh:
		a.logger.Info("shutdown initiated", zap.String("reason", "stop request"))
	case err := <-serveErr:
		a.logger.Error("http server error", zap.Error(err))
		runErr = fmt.Errorf("serve http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.pool.Close()
	cancelPool()
	<-poolDone

	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close releases backend clients.
func (a *App) Close(_ context.Context) error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
