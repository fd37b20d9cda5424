// Package bootstrap wires the harvest scheduler service together and runs it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/api"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/catalog"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/database"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/dispatch"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/estimate"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/metrics"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/queue"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/scheduler"
)

// App is the assembled service.
type App struct {
	cfg *config.Config
	log logger.Logger

	db       *sqlx.DB
	redis    *queue.Client
	registry *queue.Registry
	loop     *scheduler.Loop
	signals  *queue.SignalConsumer
	server   *api.Server

	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New connects to Postgres and Redis and builds every component. Nothing
// runs until Start.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, version string) (*App, error) {
	app := &App{cfg: cfg, log: log}

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	app.db = db
	if err = database.EnsureSchema(ctx, db); err != nil {
		app.close()
		return nil, err
	}
	log.Info("Connected to database",
		logger.String("host", cfg.Database.Host),
		logger.String("database", cfg.Database.DBName),
	)

	client, err := queue.NewClient(ctx, cfg.Redis)
	if err != nil {
		app.close()
		return nil, err
	}
	app.redis = client
	log.Info("Connected to Redis", logger.String("address", cfg.Redis.Address))

	packing, err := NewPacking(cfg.JobGen)
	if err != nil {
		app.close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cat := catalog.NewPostgres(db, estimate.SettingsFromConfig(cfg.JobGen), packing.Metric)
	jobs := database.NewJobRepository(db)

	tracker := lifecycle.NewTracker(jobs, cat, lifecycle.Settings{
		JobTimeout:   cfg.Scheduler.JobTimeoutTime,
		MaxResubmits: cfg.Scheduler.MaxResubmits,
	}, lifecycle.WithLogger(log), lifecycle.WithMetrics(m))

	producer := queue.NewProducer(client, cfg.Redis.MaxStreamLen)
	app.registry = queue.NewRegistry(client, cfg.Redis.WorkerTTL)

	dispatcher := dispatch.New(producer, app.registry, tracker,
		dispatch.SettingsFromConfig(cfg.JobGen, cfg.Scheduler),
		dispatch.WithLogger(log), dispatch.WithMetrics(m),
	)

	generator := packing.NewGenerator(cfg.JobGen, cat, jobs, log, m)

	app.loop = scheduler.NewLoop(cat, generator, tracker, dispatcher,
		scheduler.WithPeriod(cfg.Scheduler.JobGenerationPeriod),
		scheduler.WithSweepInterval(cfg.Scheduler.TimeoutSweepInterval),
		scheduler.WithRunOnStart(true),
		scheduler.WithLogger(log),
		scheduler.WithMetrics(m),
	)

	app.signals = queue.NewSignalConsumer(client, tracker,
		queue.WithSignalLogger(log), queue.WithSignalMetrics(m))

	router := api.NewRouter(jobs, log,
		api.WithSignals(tracker),
		api.WithChannels(app.registry, producer),
		api.WithPassRunner(app.loop),
		api.WithGatherer(reg),
		api.WithVersion(version),
		api.WithHealthCheck("database", db.PingContext),
		api.WithHealthCheck("redis", client.Ping),
	)
	app.server = api.NewServer(cfg.Server, log, router.Setup)

	return app, nil
}

// Start launches the scheduler loop, the signal consumer, the registry
// pruner and the HTTP server. The returned channel reports a fatal server error.
func (a *App) Start(ctx context.Context) (<-chan error, error) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.signals.Initialize(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("initialize signal consumer: %w", err)
	}
	if err := a.loop.Start(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	a.running.Add(2)
	go func() {
		defer a.running.Done()
		if err := a.signals.Run(runCtx); err != nil {
			a.log.Error("Signal consumer stopped", logger.Error(err))
		}
	}()
	go func() {
		defer a.running.Done()
		a.pruneWorkers(runCtx)
	}()

	return a.server.StartAsync(), nil
}

// Shutdown stops components in reverse start order and closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.loop.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.running.Wait()
	a.close()

	a.log.Info("Harvest scheduler stopped")
	return errors.Join(errs...)
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("Failed to close Redis", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("Failed to close database", logger.Error(err))
		}
	}
}

// pruneWorkers drops expired heartbeats from the default channels every TTL.
func (a *App) pruneWorkers(ctx context.Context) {
	channels := []string{a.cfg.JobGen.DefaultSnapshotChannel, a.cfg.JobGen.DefaultFocusedChannel}
	ticker := time.NewTicker(a.cfg.Redis.WorkerTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range channels {
				removed, err := a.registry.Prune(ctx, ch)
				if err != nil {
					a.log.Warn("Failed to prune workers", logger.String("channel", ch), logger.Error(err))
					continue
				}
				if removed > 0 {
					a.log.Info("Pruned expired workers",
						logger.String("channel", ch),
						logger.Int64("removed", removed),
					)
				}
			}
		}
	}
}
