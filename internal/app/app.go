// Package app builds and owns the long-lived services of a scraper process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/api"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browser"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browserpool"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/config"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/crawler"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/logging"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/metrics"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/pdf"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/progress"
	progresssinks "github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/progress/sinks"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/render"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/scraper"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage"
	gcsstorage "github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage/gcs"
	localstorage "github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage/local"
	memorystorage "github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage/memory"
	pgstore "github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage/postgres"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	pool        *browserpool.Pool
	unsubscribe func()
	discoverer  *crawler.Discoverer
	renderer    *render.Renderer
	merger      *pdf.Merger
	blobStore   storage.BlobStore
	gcsClient   *gstorage.Client
	runStore    *pgstore.RunStore
	runRepo     store.RunRepository
	hub         *progress.Hub

	apiServer   *api.Server
	stopServer  context.CancelFunc
	serverDone  chan error
	closeOnce   sync.Once
	ownedLogger bool
}

// Option customizes Build.
type Option func(*App)

// WithLogger injects a logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Build validates cfg and wires every service. The status server, when
// enabled, starts listening before Build returns.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		logger, err := logging.New(cfg.LoggingConfig())
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		a.logger, a.ownedLogger = logger, true
	}

	built := false
	defer func() {
		if !built {
			_ = a.Close(context.Background())
		}
	}()

	a.logger.Info("building application dependencies",
		zap.Int("pool_capacity", cfg.Pool.Capacity),
		zap.String("output_provider", cfg.Output.Provider),
		zap.Bool("merge", cfg.Merge.Enabled),
		zap.Bool("server", cfg.Server.Enabled),
		zap.Bool("database", cfg.Database.DSN != ""),
	)
	a.metrics = metrics.New(nil)

	a.pool = browserpool.New(browser.NewLauncher(a.logger.Named("browser")), cfg.PoolConfig(), a.logger.Named("pool"))
	a.unsubscribe = a.pool.Subscribe(a.metrics.ObservePool)

	crawlCfg := cfg.CrawlerConfig()
	crawlCfg.Retry = a.metrics.InstrumentRetry("discover", crawlCfg.Retry)
	discoverer, err := crawler.New(crawlCfg, a.logger.Named("crawler"))
	if err != nil {
		return nil, fmt.Errorf("crawler init failed: %w", err)
	}
	a.discoverer = discoverer

	renderCfg := cfg.RenderConfig()
	renderCfg.Retry = a.metrics.InstrumentRetry("render", renderCfg.Retry)
	renderCfg.OnRateLimitWait = a.metrics.ObserveRateLimitWait
	a.renderer = render.New(a.pool, renderCfg, a.logger.Named("render"))

	if cfg.Merge.Enabled {
		mergeCfg := cfg.MergeConfig()
		mergeCfg.Retry = a.metrics.InstrumentRetry("merge", mergeCfg.Retry)
		a.merger = pdf.New(mergeCfg, nil, a.logger.Named("pdf"))
	}

	if err := a.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.setupRunStore(ctx); err != nil {
		return nil, err
	}
	if err := a.setupProgress(ctx); err != nil {
		return nil, err
	}
	if err := a.setupServer(ctx); err != nil {
		return nil, err
	}

	built = true
	return a, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Output.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blob, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       a.cfg.Output.Bucket,
			CacheControl: a.cfg.Output.CacheControl,
		})
		if err != nil {
			return fmt.Errorf("gcs store init failed: %w", err)
		}
		a.blobStore = blob
		a.logger.Info("using gcs output", zap.String("bucket", a.cfg.Output.Bucket))
	case "memory":
		a.blobStore = memorystorage.NewBlobStore()
		a.logger.Warn("using in-memory output; documents are discarded on exit")
	default:
		blob, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return fmt.Errorf("local store init failed: %w", err)
		}
		a.blobStore = blob
		a.logger.Info("using local output", zap.String("dir", a.cfg.Output.Dir))
	}
	return nil
}

func (a *App) setupRunStore(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		return nil
	}
	rs, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runStore, a.runRepo = rs, rs
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.metrics.Registerer())
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinks := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress")),
		promSink,
	}
	if a.runRepo != nil {
		sinks = append(sinks, progresssinks.NewStoreSink(a.runRepo, a.logger.Named("progress.store")))
	}
	hubCfg := a.cfg.ProgressConfig()
	hubCfg.BaseContext = context.WithoutCancel(ctx)
	hubCfg.Logger = a.logger.Named("progress")
	a.hub = progress.NewHub(hubCfg, sinks...)
	return nil
}

func (a *App) setupServer(ctx context.Context) error {
	if !a.cfg.Server.Enabled {
		return nil
	}
	srv, err := api.NewServer(api.Options{
		Pool:       a.pool,
		Runs:       a.runRepo,
		Metrics:    a.metrics.Handler(),
		Middleware: []func(http.Handler) http.Handler{a.metrics.Middleware},
		APIKey:     a.cfg.Server.APIKey,
		Logger:     a.logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("status server init failed: %w", err)
	}
	a.apiServer = srv

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopServer = cancel
	a.serverDone = make(chan error, 1)
	go func() {
		a.serverDone <- srv.Serve(serveCtx, a.cfg.Server.Addr)
	}()
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the status API router, or nil when the server is disabled.
func (a *App) Handler() http.Handler {
	if a.apiServer == nil {
		return nil
	}
	return a.apiServer.Handler()
}

// Scraper builds a scraper for rootURL over the application's services. An
// empty rootURL uses crawler.root_url.
func (a *App) Scraper(rootURL string) (*scraper.Scraper, error) {
	cfg := a.cfg
	if rootURL != "" {
		cfg.Crawler.RootURL = rootURL
	}
	if err := cfg.ValidateRun(); err != nil {
		return nil, err
	}
	deps := scraper.Deps{
		Pool:       a.pool,
		Discoverer: a.discoverer,
		Renderer:   a.renderer,
		Store:      a.blobStore,
		Progress:   a.hub,
		Logger:     a.logger.Named("scraper"),
	}
	if a.merger != nil {
		deps.Merger = a.merger
	}
	return scraper.New(deps, scraper.Options{
		RootURL:       cfg.Crawler.RootURL,
		Workers:       cfg.Pool.Capacity,
		BatchInterval: cfg.Render.BatchInterval,
		InitRetry:     a.metrics.InstrumentRetry("pool_init", cfg.PoolRetryOptions()),
		Merge:         cfg.Merge.Enabled,
		Prefix:        cfg.Output.Prefix,
		FileName:      cfg.Output.FileName,
		KeepPages:     cfg.Output.KeepPages,
		WorkDir:       cfg.Output.WorkDir,
	})
}

// Close shuts services down in reverse construction order. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		errs = a.close(ctx)
	})
	return errors.Join(errs...)
}

func (a *App) close(ctx context.Context) []error {
	var errs []error
	if a.stopServer != nil {
		a.stopServer()
		select {
		case err := <-a.serverDone:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("status server shutdown: %w", ctx.Err()))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("count", dropped))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		poolCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		a.pool.Close(poolCtx)
		cancel()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.logger.Info("shutdown complete")
	if a.ownedLogger {
		// Sync on stderr-backed cores fails on some platforms; ignore it.
		_ = a.logger.Sync()
	}
	return errs
}
