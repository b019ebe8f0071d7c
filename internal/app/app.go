// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/documents"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/report"
	"github.com/JakeFAU/catalog-crawler/internal/storage/csvfile"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
)

// App holds the services shared by every command: the fetcher, the catalog
// indexer and the record extractor. Per-run services (row sinks, the run
// ledger, the publisher and the status server) are opened by Crawl.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	fetcher   *collyfetcher.Fetcher
	indexer   *catalog.Indexer
	extractor *extract.Extractor
	docs      crawler.DocumentStore
	publisher crawler.Publisher
	closers   []func() error
}

// Option customizes an App.
type Option func(*App)

// WithClock replaces the system clock used for pacing and backoff.
func WithClock(clock crawler.Clock) Option {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithDocumentStore replaces the configured document backend.
func WithDocumentStore(store crawler.DocumentStore) Option {
	return func(a *App) {
		a.docs = store
	}
}

// WithPublisher publishes program events through p instead of the configured Pub/Sub topic.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) {
		a.publisher = p
	}
}

// New validates cfg and builds the shared services. It fails fast when a
// configured backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	robots := crawler.NewRobotsEnforcer(crawler.RobotsConfig{
		Respect:          cfg.Crawler.RespectRobots,
		Cache:            cfg.Crawler.RobotsCache,
		DefaultUserAgent: cfg.Crawler.UserAgent,
		Timeout:          cfg.Timeout(),
	}, nil, logger)
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
	})
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		Timeout:       cfg.Timeout(),
		BackoffFactor: cfg.HTTP.BackoffFactor,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	}, robots, logger, collyfetcher.WithClock(a.clock), collyfetcher.WithLimiter(limiter))

	indexer, err := catalog.New(a.fetcher, catalog.Config{
		URL:          cfg.Catalog.URL,
		GroupPattern: cfg.Catalog.GroupPattern,
		Fetch:        cfg.FetchRequest(),
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init catalog indexer: %w", err)
	}
	a.indexer = indexer

	if a.docs == nil {
		if err := a.openDocumentStore(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	persister := documents.New(a.fetcher, a.docs, logger)
	extractor, err := extract.New(a.fetcher, persister, a.clock, cfg.ExtractorConfig(), logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	a.extractor = extractor

	logger.Info("Application services initialized",
		zap.String("catalog_url", cfg.Catalog.URL),
		zap.String("documents_backend", cfg.Documents.Backend),
	)
	return a, nil
}

func (a *App) openDocumentStore(ctx context.Context) error {
	switch a.cfg.Documents.Backend {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Documents.Bucket, Prefix: a.cfg.Documents.Prefix})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("init gcs store: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.docs = store
		a.logger.Info("Using GCS document store", zap.String("bucket", a.cfg.Documents.Bucket))
	case "memory":
		a.docs = memory.NewBlobStore()
		a.logger.Info("Using in-memory document store; documents are discarded on exit")
	default:
		store, err := local.New(local.Config{})
		if err != nil {
			return fmt.Errorf("init local store: %w", err)
		}
		a.docs = store
	}
	return nil
}

// Config returns the configuration the App was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

// ListEntries runs the catalog indexer alone.
func (a *App) ListEntries(ctx context.Context) ([]string, error) {
	return a.indexer.ListEntries(ctx)
}

// ExtractProgram runs the record extractor on a single detail page.
func (a *App) ExtractProgram(ctx context.Context, pageURL string) (crawler.ProgramRecord, error) {
	return a.extractor.Extract(ctx, pageURL, a.cfg.ExtractOptions())
}

// Crawl runs the full pipeline: it opens the row sinks and the optional
// ledger, publisher and status server, runs every catalog entry, then writes
// the metrics textfile and the run report.
func (a *App) Crawl(ctx context.Context) (summary pipeline.Summary, err error) {
	run, err := a.openRun(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer func() {
		if cerr := run.close(); cerr != nil {
			a.logger.Warn("Failed to close run services", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}()

	opts := []pipeline.Option{}
	if len(run.recorders) > 0 {
		opts = append(opts, pipeline.WithRunRecorder(run.recorders))
	}
	if run.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(run.publisher))
	}
	p, err := pipeline.New(a.indexer, a.extractor, run.sinks, a.clock, pipeline.Config{
		ProgramInterval: a.cfg.ProgramInterval(),
		Extract:         a.cfg.ExtractOptions(),
		Topic:           a.cfg.PubSub.Topic,
	}, a.logger, opts...)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("init pipeline: %w", err)
	}

	stopServer := a.serveStatus(ctx, p, run.history)
	summary, err = p.Run(ctx)
	stopServer()

	a.writeArtifacts(summary)
	return summary, err
}

func (a *App) serveStatus(ctx context.Context, status api.StatusSource, history api.RunHistory) func() {
	if a.cfg.Metrics.ListenAddr == "" {
		return func() {}
	}
	srv := api.NewServer(status, history, api.Config{APIKey: a.cfg.Metrics.APIKey}, a.logger)
	serverCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(serverCtx, a.cfg.Metrics.ListenAddr); err != nil {
			a.logger.Error("Status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *App) writeArtifacts(summary pipeline.Summary) {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}
	if path := a.cfg.Output.ReportPath; path != "" {
		if err := report.WriteFile(path, summary); err != nil {
			a.logger.Warn("Failed to write run report", zap.String("path", path), zap.Error(err))
		} else {
			a.logger.Info("Run report written", zap.String("path", path))
		}
	}
}

// Close releases clients owned by the App.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}

// runServices are the per-run resources opened by Crawl.
type runServices struct {
	sinks     []crawler.ProgramSink
	recorders recorders
	history   api.RunHistory
	publisher crawler.Publisher
	closers   []func() error
}

func (a *App) openRun(ctx context.Context) (*runServices, error) {
	run := &runServices{publisher: a.publisher}

	csvOut, err := csvfile.Create(a.cfg.Output.CSVPath)
	if err != nil {
		return nil, err
	}
	run.sinks = append(run.sinks, csvOut)

	if path := a.cfg.Output.SQLitePath; path != "" {
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			_ = run.close()
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		run.sinks = append(run.sinks, store)
		run.recorders = append(run.recorders, store)
		run.history = store
	}

	if dsn := a.cfg.Postgres.DSN; dsn != "" {
		store, err := postgres.NewProgramStore(ctx, postgres.ProgramStoreConfig{
			DSN:         dsn,
			Table:       a.cfg.Postgres.Table,
			MaxConns:    a.cfg.Postgres.MaxConns,
			CreateTable: a.cfg.Postgres.CreateTable,
		})
		if err != nil {
			_ = run.close()
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		run.sinks = append(run.sinks, store)
		run.recorders = append(run.recorders, store)
	}

	if run.publisher == nil && a.cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
		if err != nil {
			_ = run.close()
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		run.publisher = pub
		run.closers = append(run.closers, pub.Close)
	}
	return run, nil
}

func (r *runServices) close() error {
	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	r.sinks, r.closers = nil, nil
	return errors.Join(errs...)
}
