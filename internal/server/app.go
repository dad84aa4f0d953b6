// Package server assembles the crawler's dependencies and owns their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/acquirer"
	"github.com/JakeFAU/realtime-event-crawler/internal/api"
	"github.com/JakeFAU/realtime-event-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-event-crawler/internal/config"
	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-event-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-event-crawler/internal/extractor"
	"github.com/JakeFAU/realtime-event-crawler/internal/extractor/gemini"
	collyfetcher "github.com/JakeFAU/realtime-event-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/realtime-event-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-event-crawler/internal/hash/sha256"
	"github.com/JakeFAU/realtime-event-crawler/internal/id/uuid"
	"github.com/JakeFAU/realtime-event-crawler/internal/persistence"
	"github.com/JakeFAU/realtime-event-crawler/internal/planner"
	"github.com/JakeFAU/realtime-event-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-event-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-event-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/realtime-event-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-event-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/realtime-event-crawler/internal/queue/memory"
	"github.com/JakeFAU/realtime-event-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/realtime-event-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-event-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/realtime-event-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-event-crawler/internal/storage/postgres"
	"github.com/JakeFAU/realtime-event-crawler/internal/telemetry"
	"github.com/JakeFAU/realtime-event-crawler/internal/worker"
)

// Version is stamped into traces; overridden at link time.
var Version = "dev"

// Catalog is the full site and event surface a backend must provide.
type Catalog interface {
	crawler.SiteStore
	crawler.SiteRegistry
	crawler.EventStore
	crawler.EventReader
	ListSites(ctx context.Context) ([]crawler.Site, error)
}

type publisher interface {
	crawler.Publisher
	Close() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers progress metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	catalog   Catalog
	apiServer *api.Server
	pool      *dispatcher.Dispatcher
	planner   *planner.Planner
	scheduler *scheduler.Scheduler
	queue     *queueMemory.Queue
	hub       *progress.Hub
	feed      *progresssinks.Broadcaster

	pgStore   *pgstore.Store
	gcs       *storage.Client
	publisher publisher
	headless  *headlessfetcher.Fetcher
	tracer    *sdktrace.TracerProvider
}

// Build creates the application's dependencies. The caller owns Close, or
// Run which closes on exit.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bo := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&bo)
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("snapshots", cfg.Storage.Snapshots),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	if err := app.build(ctx, bo); err != nil {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, bo buildOptions) error {
	var err error
	if err = a.setupTracing(ctx); err != nil {
		return err
	}
	if a.catalog, err = a.setupCatalog(ctx); err != nil {
		return err
	}
	snapshots, err := a.setupSnapshots(ctx)
	if err != nil {
		return err
	}
	if a.publisher, err = a.setupPublisher(ctx); err != nil {
		return err
	}
	if err = a.setupProgress(ctx, bo.registerer); err != nil {
		return err
	}
	acq, err := a.setupAcquirer()
	if err != nil {
		return err
	}
	ext, err := a.setupExtractor(ctx)
	if err != nil {
		return err
	}

	clock := system.New()
	a.queue = queueMemory.NewQueue(a.cfg.Crawler.QueueDepth)
	a.pool = a.setupPool(acq, ext, snapshots, clock)
	a.planner = planner.New(a.catalog, a.pool, uuid.New(), clock, a.logger.Named("planner"))

	if a.cfg.Schedule.Enabled {
		a.scheduler, err = scheduler.New(scheduler.Config{
			Spec:     a.cfg.Schedule.Spec,
			Timezone: a.cfg.Schedule.Timezone,
		}, a.planner, a.logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	a.apiServer = api.NewServer(api.Dependencies{
		Sites:    a.catalog,
		Events:   a.catalog,
		Planner:  a.planner,
		Progress: a.feed,
	}, a.cfg, a.logger.Named("api"))
	return nil
}

// Catalog exposes the site and event store backing the app.
func (a *App) Catalog() Catalog {
	return a.catalog
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API, runs the worker pool and schedule, and blocks until ctx
// is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers outlive the signal so in-flight sites can finish during shutdown.
	poolCtx, cancelPool := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPool()
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		a.logger.Info("worker pool started", zap.Int("workers", a.pool.Size()))
		a.pool.Run(poolCtx)
	}()

	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.Info("schedule started", zap.Time("next", a.scheduler.Next()))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	a.apiServer.SetReady(true)

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.apiServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGrace())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	a.queue.Close()
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("shutdown grace expired, abandoning in-flight sites", zap.Int("queued", a.queue.Len()))
		cancelPool()
		<-poolDone
	}

	return a.Close(shutdownCtx)
}

// ScrapeOnce plans one pass (every site, or only siteID when positive), runs
// the pool until the queue drains, and returns the plan outcome. The app
// cannot be reused afterwards.
func (a *App) ScrapeOnce(ctx context.Context, siteID int64) (planner.Outcome, error) {
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		a.pool.Run(ctx)
	}()

	var (
		out planner.Outcome
		err error
	)
	if siteID > 0 {
		_, err = a.planner.Single(ctx, siteID)
		if err == nil {
			out = planner.Outcome{Count: 1, Message: fmt.Sprintf("Scraping initiated for site %d.", siteID)}
		}
	} else {
		out, err = a.planner.Plan(ctx, crawler.TriggerPlan)
	}
	a.queue.Close()
	<-poolDone
	if err != nil {
		return planner.Outcome{}, fmt.Errorf("plan: %w", err)
	}
	return out, nil
}

// Close flushes progress and releases infrastructure. It is safe after a
// partial Build.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub: %w", err))
		}
	}
	a.closeInfrastructure(&errs)
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(errs *[]error) {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			*errs = append(*errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			*errs = append(*errs, fmt.Errorf("gcs client: %w", err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: "eventcrawler",
		Version:     Version,
		ProjectID:   a.cfg.Tracing.ProjectID,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracer = tp
	a.logger.Info("tracing enabled",
		zap.String("project", a.cfg.Tracing.ProjectID),
		zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio),
	)
	return nil
}

func (a *App) setupCatalog(ctx context.Context) (Catalog, error) {
	if a.cfg.Storage.Backend == config.BackendMemory {
		a.logger.Warn("using in-memory catalog; sites and events are lost on exit")
		return memoryStorage.NewCatalog(), nil
	}
	store, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		Tables: pgstore.Tables{
			Sites:  a.cfg.DB.SitesTable,
			Events: a.cfg.DB.EventsTable,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pgStore = store
	if a.cfg.DB.AutoMigrate {
		tables := pgstore.Tables{Sites: a.cfg.DB.SitesTable, Events: a.cfg.DB.EventsTable}
		if err := pgstore.Migrate(ctx, store.Pool(), pgstore.MigrateUp, tables, a.logger.Named("migrate")); err != nil {
			return nil, fmt.Errorf("auto migrate failed: %w", err)
		}
	}
	a.logger.Info("postgres catalog ready",
		zap.String("sites_table", a.cfg.DB.SitesTable),
		zap.String("events_table", a.cfg.DB.EventsTable),
	)
	return store, nil
}

func (a *App) setupSnapshots(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Snapshots {
	case config.SnapshotsGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("snapshots to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.SnapshotsLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("snapshots to local disk", zap.String("path", a.cfg.Storage.LocalDir))
		return store, nil
	case config.SnapshotsMemory:
		a.logger.Info("snapshots kept in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, progress bus stays in-process")
		return memorypublisher.New(a.cfg.Progress.BufferSize), nil
	}
	pub, err := gcppublisher.Open(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		Topic:     a.cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.feed = progresssinks.NewBroadcaster(a.cfg.Progress.SubscriberBuffer)
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		progresssinks.NewPublisherSink(a.publisher, a.cfg.PubSub.TopicName),
		a.feed,
	)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupAcquirer() (*acquirer.Acquirer, error) {
	var primary, fallback crawler.Fetcher
	if a.cfg.Fallback.Enabled {
		fallback = collyfetcher.New(collyfetcher.Config{
			UserAgent:      a.cfg.Headless.UserAgent,
			Timeout:        time.Duration(a.cfg.Fallback.TimeoutSeconds) * time.Second,
			RenderEndpoint: a.cfg.Fallback.RenderEndpoint,
			APIKey:         a.cfg.Fallback.APIKey,
		})
		a.logger.Info("fallback fetcher enabled", zap.Bool("render_service", a.cfg.Fallback.RenderEndpoint != ""))
	}
	if a.cfg.Headless.Enabled {
		var limiter headlessfetcher.HostLimiter
		if a.cfg.Headless.RatePerSecond > 0 {
			limiter = ratelimit.New(ratelimit.Config{
				RPS:   a.cfg.Headless.RatePerSecond,
				Burst: a.cfg.Headless.Burst,
			})
		}
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Headless.UserAgent,
			NavigationTimeout: a.cfg.AcquireTimeout(),
			ViewportWidth:     a.cfg.Headless.ViewportWidth,
			ViewportHeight:    a.cfg.Headless.ViewportHeight,
			WaitCondition:     headlessfetcher.WaitCondition(a.cfg.Headless.WaitCondition),
			DelayMin:          time.Duration(a.cfg.Headless.DelayMinMs) * time.Millisecond,
			DelayMax:          time.Duration(a.cfg.Headless.DelayMaxMs) * time.Millisecond,
			ExecPath:          a.cfg.Headless.ExecPath,
			Limiter:           limiter,
			Logger:            a.logger.Named("headless"),
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = h
		primary = h
		a.logger.Info("headless renderer enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	} else {
		// Validation guarantees the fallback exists when headless is off.
		primary, fallback = fallback, nil
		a.logger.Warn("headless renderer disabled, fetching without JavaScript")
	}

	base := time.Duration(a.cfg.Acquirer.BackoffBaseMs) * time.Millisecond
	maxDelay := time.Duration(a.cfg.Acquirer.BackoffMaxMs) * time.Millisecond
	var policy crawler.RetryPolicy
	if a.cfg.Acquirer.Backoff == "exponential" {
		policy = crawler.NewExponentialRetryPolicy(a.cfg.Acquirer.MaxRetries, base, maxDelay)
	} else {
		policy = crawler.NewLinearRetryPolicy(a.cfg.Acquirer.MaxRetries, base, maxDelay)
	}
	return acquirer.New(primary, fallback, policy, acquirer.Options{
		Timeout:    a.cfg.AcquireTimeout(),
		MaxRetries: a.cfg.Acquirer.MaxRetries,
	}, a.logger.Named("acquirer")), nil
}

func (a *App) setupExtractor(ctx context.Context) (*extractor.Extractor, error) {
	var gen crawler.StructuredGenerator = gemini.Noop{}
	if a.cfg.Extractor.APIKey != "" {
		g, err := gemini.New(ctx, gemini.Config{
			APIKey: a.cfg.Extractor.APIKey,
			Model:  a.cfg.Extractor.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client init failed: %w", err)
		}
		gen = g
		a.logger.Info("extractor ready", zap.String("model", a.cfg.Extractor.Model))
	} else {
		a.logger.Warn("no extractor API key configured; every page will yield zero events")
	}
	return extractor.New(gen, a.logger.Named("extractor"),
		extractor.WithMaxInputChars(a.cfg.Extractor.MaxInputChars)), nil
}

func (a *App) setupPool(
	acq *acquirer.Acquirer,
	ext *extractor.Extractor,
	snapshots crawler.BlobStore,
	clock crawler.Clock,
) *dispatcher.Dispatcher {
	events := persistence.New(a.catalog, a.catalog, a.logger.Named("persistence"))
	workerCfg := worker.Config{
		ContentType:    a.cfg.Storage.ContentType,
		SnapshotPrefix: a.cfg.Storage.Prefix,
		Acquire: acquirer.Options{
			Timeout:    a.cfg.AcquireTimeout(),
			MaxRetries: a.cfg.Acquirer.MaxRetries,
		},
	}
	concurrency := a.cfg.Crawler.Concurrency
	if concurrency <= 0 {
		concurrency = dispatcher.DefaultConcurrency
	}
	runners := make([]dispatcher.Runner, 0, concurrency)
	for i := range concurrency {
		runners = append(runners, worker.New(worker.Dependencies{
			Queue:     a.queue,
			Sites:     a.catalog,
			Acquirer:  acq,
			Extractor: ext,
			Events:    events,
			Snapshots: snapshots,
			Hasher:    sha256.New(),
			Clock:     clock,
			IDs:       uuid.WithPrefix("run-"),
			Progress:  a.hub,
		}, workerCfg, a.logger.Named("worker").With(zap.Int("index", i))))
	}
	return dispatcher.New(a.queue, runners)
}
