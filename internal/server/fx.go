// Package server builds the worker's dependency graph and runs its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/auction-ingest/internal/api"
	"github.com/JakeFAU/auction-ingest/internal/browser"
	"github.com/JakeFAU/auction-ingest/internal/clock/system"
	"github.com/JakeFAU/auction-ingest/internal/config"
	"github.com/JakeFAU/auction-ingest/internal/credentials"
	"github.com/JakeFAU/auction-ingest/internal/extract"
	"github.com/JakeFAU/auction-ingest/internal/hash/sha256"
	"github.com/JakeFAU/auction-ingest/internal/id/uuid"
	"github.com/JakeFAU/auction-ingest/internal/logging"
	"github.com/JakeFAU/auction-ingest/internal/normalize"
	"github.com/JakeFAU/auction-ingest/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/auction-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/auction-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/auction-ingest/internal/queue"
	queueMemory "github.com/JakeFAU/auction-ingest/internal/queue/memory"
	"github.com/JakeFAU/auction-ingest/internal/queue/pgmq"
	"github.com/JakeFAU/auction-ingest/internal/scrape"
	gcsstorage "github.com/JakeFAU/auction-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/auction-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/auction-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/auction-ingest/internal/storage/postgres"
	"github.com/JakeFAU/auction-ingest/internal/sweeper"
	"github.com/JakeFAU/auction-ingest/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// JobQueue is the queue surface the app needs from pgmq or the memory queue.
type JobQueue interface {
	api.Enqueuer
	EnsureQueue(ctx context.Context, name string) error
	Subscribe(ctx context.Context, name string, h queue.Handler, opts queue.Options) error
	Shutdown(ctx context.Context) error
}

// stores groups the persistence backends chosen at startup.
type stores struct {
	jobs     scrape.JobStore
	listings scrape.ListingStore
	creds    scrape.CredentialStore
	status   scrape.CredsStatusWriter
}

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	processor    *worker.Processor
	sweeper      *sweeper.Sweeper
	queue        JobQueue
	pool         *pgxpool.Pool
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	storage      *storage.Client
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	type sanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		QueueBackend   string `json:"queue_backend"`
		QueueName      string `json:"queue_name"`
		Database       bool   `json:"database"`
		Snapshots      string `json:"snapshots,omitempty"`
		Notify         string `json:"notify,omitempty"`
		MismatchPolicy string `json:"mismatch_policy"`
	}
	safeCfg := sanitizedConfig{
		ServerPort:     cfg.Server.Port,
		QueueBackend:   cfg.Queue.Backend,
		QueueName:      cfg.Queue.Name,
		Database:       cfg.Database.DSN != "",
		MismatchPolicy: cfg.Worker.MismatchPolicy,
	}
	if cfg.Snapshots.Enabled {
		safeCfg.Snapshots = cfg.Snapshots.Backend
	}
	if cfg.Notify.Enabled {
		safeCfg.Notify = cfg.Notify.Backend
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Start subscribes the processor to the job queue and launches the sweeper.
// Both stop when ctx is canceled.
func (a *App) Start(ctx context.Context) error {
	err := a.queue.Subscribe(ctx, a.cfg.Queue.Name, a.processor.Handle, queue.Options{
		PollInterval:      a.cfg.Queue.PollInterval,
		BatchSize:         a.cfg.Queue.BatchSize,
		VisibilityTimeout: a.cfg.Queue.VisibilityTimeout,
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", a.cfg.Queue.Name, err)
	}
	go func() {
		a.logger.Info("sweeper started")
		a.sweeper.Run(ctx)
	}()
	return nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close drains the subscriber and releases clients. An in-flight job gets
// until ctx expires; after that its message reappears once its visibility
// timeout lapses.
func (a *App) Close(ctx context.Context) error {
	var drainErr error
	if a.queue != nil {
		if err := a.queue.Shutdown(ctx); err != nil {
			a.logger.Warn("subscriber drain incomplete", zap.Error(err))
			drainErr = err
		}
	}
	a.closeInfrastructure()
	a.closeObservability()
	a.logger.Info("shutdown complete")
	return drainErr
}

func (a *App) closeInfrastructure() {
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability() {
	// Sync fails on stdout/stderr for some platforms; the error is informational.
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.NewLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	st, err := setupDatabase(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	if err = setupQueue(ctx, app); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	resolver, err := setupCredentials(app, st.creds)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	snapshots, err := setupSnapshots(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	clock := system.New()
	idGen := uuid.New()
	engine := extract.NewEngine(st.jobs, st.status, snapshots, cfg.ExtractOptions(), logging.Component(logger, "extract"))
	launcher := browser.NewLauncher(browser.Config{
		Headless:  cfg.Browser.Headless,
		ExecPath:  cfg.Browser.ExecPath,
		NoSandbox: cfg.Browser.NoSandbox,
		Locale:    cfg.Browser.Locale,
		Timezone:  cfg.Browser.Timezone,
	}, nil, logging.Component(logger, "browser"))

	workerCfg := worker.Config{
		JobTimeout:  cfg.Worker.JobTimeout,
		NotifyTopic: cfg.Notify.Topic,
	}
	app.logger.Info("worker config",
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.Duration("login_timeout", cfg.Worker.LoginTimeout),
		zap.Duration("results_timeout", cfg.Worker.ResultsTimeout),
		zap.Int("max_pages", cfg.Worker.MaxPages),
		zap.Float64("portal_rate_per_minute", cfg.Worker.PortalRatePerMinute),
		zap.Bool("headless", cfg.Browser.Headless),
	)
	app.processor = worker.New(worker.Deps{
		Jobs:        st.jobs,
		Listings:    st.listings,
		Credentials: resolver,
		Browser:     launcher,
		Extractor:   engine,
		Normalizer:  normalize.New(clock, time.UTC),
		IDs:         idGen,
		Clock:       clock,
		Publisher:   publisher,
		Limiter: ratelimit.New(ratelimit.Config{
			PerMinute: cfg.Worker.PortalRatePerMinute,
			Burst:     cfg.Worker.PortalBurst,
		}),
	}, workerCfg, logging.Component(logger, "worker"))

	app.sweeper = sweeper.New(st.jobs, clock, sweeper.Config{
		Interval:   cfg.Sweeper.Interval,
		StaleAfter: cfg.Sweeper.StaleAfter,
	}, logging.Component(logger, "sweeper"))

	var ready api.ReadinessCheck
	if app.pool != nil {
		ready = app.pool.Ping
	}
	app.apiServer = api.NewServer(
		st.jobs,
		app.queue,
		idGen,
		clock,
		ready,
		api.Options{QueueName: cfg.Queue.Name, APIKey: cfg.Server.APIKey},
		logger,
	)

	return app, nil
}

func setupDatabase(ctx context.Context, app *App) (stores, error) {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory stores")
		users := memoryStorage.NewUserStore()
		return stores{
			jobs:     memoryStorage.NewJobStore(),
			listings: memoryStorage.NewListingStore(),
			creds:    users,
			status:   users,
		}, nil
	}
	var err error
	app.pool, err = pgstore.OpenPool(ctx, pgstore.PoolConfig{
		DSN:      app.cfg.Database.DSN,
		MaxConns: app.cfg.Database.MaxConns,
	})
	if err != nil {
		return stores{}, fmt.Errorf("database init failed: %w", err)
	}
	caps, err := pgstore.ProbeSchema(ctx, app.pool)
	if err != nil {
		return stores{}, fmt.Errorf("database init failed: %w", err)
	}
	app.logger.Info("postgres stores initialized",
		zap.Bool("creds_encrypted", caps.CredsEncrypted),
		zap.Bool("creds_status", caps.CredsStatus),
		zap.Bool("creds_status_updated_at", caps.CredsStatusUpdatedAt),
		zap.Bool("total_records", caps.TotalRecords),
	)
	users := pgstore.NewUserStore(app.pool, caps)
	return stores{
		jobs:     pgstore.NewJobStore(app.pool, caps),
		listings: pgstore.NewListingStore(app.pool),
		creds:    users,
		status:   users,
	}, nil
}

func setupQueue(ctx context.Context, app *App) error {
	queueLogger := logging.Component(app.logger, "queue")
	switch app.cfg.Queue.Backend {
	case config.BackendPGMQ:
		if app.pool == nil {
			return fmt.Errorf("queue init failed: %s backend needs database.dsn", config.BackendPGMQ)
		}
		app.queue = pgmq.New(app.pool, queueLogger)
	default:
		app.logger.Info("using in-memory queue backend")
		app.queue = queueMemory.NewQueue(queueLogger)
	}
	if err := app.queue.EnsureQueue(ctx, app.cfg.Queue.Name); err != nil {
		return fmt.Errorf("queue init failed: %w", err)
	}
	app.logger.Info("queue ready",
		zap.String("backend", app.cfg.Queue.Backend),
		zap.String("queue", app.cfg.Queue.Name),
	)
	return nil
}

func setupCredentials(app *App, store scrape.CredentialStore) (*credentials.Resolver, error) {
	if app.cfg.Credentials.EncryptionKey == "" {
		app.logger.Warn("No credentials encryption key configured, encrypted credentials will fail to resolve")
		return credentials.NewResolver(store, nil), nil
	}
	key, err := credentials.ParseKey(app.cfg.Credentials.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("credentials init failed: %w", err)
	}
	cipher, err := credentials.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials init failed: %w", err)
	}
	return credentials.NewResolver(store, cipher), nil
}

func setupSnapshots(ctx context.Context, app *App) (*extract.Snapshotter, error) {
	if !app.cfg.Snapshots.Enabled {
		app.logger.Info("page snapshots disabled")
		return nil, nil
	}
	var blobStore scrape.BlobStore
	var err error
	switch app.cfg.Snapshots.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS snapshot backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Snapshots.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS snapshot backend", zap.String("bucket", app.cfg.Snapshots.Bucket))
	case config.BackendLocal:
		app.logger.Info("using local snapshot backend")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Snapshots.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local snapshot backend", zap.String("path", app.cfg.Snapshots.BaseDir))
	default:
		app.logger.Info("using in-memory snapshot backend")
		blobStore = memoryStorage.NewBlobStore()
	}
	return extract.NewSnapshotter(blobStore, sha256.New(), app.cfg.Snapshots.Prefix), nil
}

func setupPublisher(ctx context.Context, app *App) (scrape.Publisher, error) {
	if !app.cfg.Notify.Enabled {
		app.logger.Info("outcome notifications disabled")
		return nil, nil
	}
	if app.cfg.Notify.Backend != config.BackendPubSub {
		app.logger.Warn("No Pub/Sub backend configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.Notify.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubTopic = app.pubsubClient.Topic(app.cfg.Notify.Topic)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.Notify.ProjectID),
		zap.String("topic", app.cfg.Notify.Topic),
	)
	return gcppublisher.New(app.pubsubTopic), nil
}
