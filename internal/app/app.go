// Package app assembles the pipeline's shared components from configuration
// for the API, worker and ingest commands.
package app

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"gorm.io/gorm"

	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/event"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/queue"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/secrets"
	"github.com/timmy/dishrank/internal/service"
	"github.com/timmy/dishrank/internal/storage"
)

// App holds the components built from one Config. Close releases them in
// reverse order of construction.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	DB       *gorm.DB
	Jobs     *repository.JobRepository
	Entities *repository.EntityRepository
	Bus      *event.Bus

	closers []func() error
}

// New loads the canonical store and the event bus. Optional components are
// built on demand by the other methods.
// Parameters:
//   - ctx: context for client setup.
//   - cfg: loaded configuration.
//   - log: process logger.
// Returns:
//   - *App: assembled components.
//   - error: non-nil if the database or event bus cannot be set up.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	ctx = log.WithContext(ctx)

	creds, err := secrets.NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets provider: %w", err)
	}

	db, err := repository.InitDB(ctx, cfg.Database, creds)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.DB = db
	a.onClose(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	a.Jobs = repository.NewJobRepository(db)
	a.Jobs.SetBatchLease(cfg.Ingest.BatchLease)
	a.Entities = repository.NewEntityRepository(db)

	bus, err := event.NewBus(ctx, cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("event bus: %w", err)
	}
	a.Bus = bus
	a.onClose(bus.Close)

	return a, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every component. The first error is returned.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// BatchProcessor wires the import processor to the canonical store and bus.
func (a *App) BatchProcessor() *service.BatchProcessor {
	return service.NewBatchProcessor(a.Jobs, service.NewUpserter(a.Entities), a.Bus.Publisher, a.Config.Events.Source)
}

// AnalyticsRecorder opens the configured analytics store.
func (a *App) AnalyticsRecorder(ctx context.Context) (*service.AnalyticsRecorder, error) {
	cfg := a.Config.Analytics

	var store service.AnalyticsStore
	switch cfg.Store {
	case "dynamodb":
		client, err := repository.NewDynamoDBClient(ctx, a.Config.AWS)
		if err != nil {
			return nil, err
		}
		store = repository.NewDynamoAnalyticsStore(client, cfg.Table)
	case "badger", "":
		db, err := repository.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, fmt.Errorf("open badger at %s: %w", cfg.BadgerDir, err)
		}
		a.onClose(db.Close)
		a.onClose(startBadgerGC(ctx, db))
		store = repository.NewBadgerAnalyticsStore(db)
	default:
		return nil, fmt.Errorf("unknown analytics store %q", cfg.Store)
	}
	return service.NewAnalyticsRecorder(store, cfg.Retention), nil
}

// startBadgerGC runs value-log garbage collection until the returned stop
// function is called.
func startBadgerGC(ctx context.Context, db *badger.DB) func() error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		repository.RunBadgerGC(ctx, db)
	}()
	return func() error {
		cancel()
		<-done
		return nil
	}
}

// RankingService builds the ranking service with a Redis cache when enabled,
// otherwise an in-process one.
func (a *App) RankingService(ctx context.Context) (*service.RankingService, error) {
	var cache service.RankingCache
	if a.Config.Redis.Enabled {
		client, err := service.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		cache = service.NewRedisRankingCache(client, a.Config.Ranking.CacheTTL)
	} else {
		cache = service.NewMemoryRankingCache(a.Config.Ranking.CacheTTL)
	}
	repo := repository.NewRankingRepository(a.DB)
	return service.NewRankingService(repo, cache, a.Config.Ranking.DefaultLimit), nil
}

// ObjectStorage connects to the import bucket. A storage type of "none"
// returns nil.
func (a *App) ObjectStorage(ctx context.Context) (storage.ObjectStorage, error) {
	if a.Config.Storage.Type == "none" {
		return nil, nil
	}
	s3Storage, err := storage.NewS3StorageFromConfig(ctx, a.Config.Storage)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	return s3Storage, nil
}

// ImportSender returns the import queue producer. Without a configured queue
// url messages are kept in memory and logged, which suits local runs.
func (a *App) ImportSender(ctx context.Context) (queue.Sender, error) {
	if a.Config.Queue.ImportQueueURL == "" {
		logger.CtxWarn(ctx, "No import queue configured, batches are kept in memory")
		return queue.NewMemorySender(), nil
	}
	client, err := queue.NewSQSClient(ctx, a.Config.AWS)
	if err != nil {
		return nil, err
	}
	return queue.NewSQSSender(client, a.Config.Queue.ImportQueueURL), nil
}

// Scheduler builds the import scheduler on sender.
func (a *App) Scheduler(sender queue.Sender) *service.Scheduler {
	return service.NewScheduler(a.Jobs, sender, service.SchedulerConfig{
		BatchSize: a.Config.Ingest.BatchSize,
		PageSize:  a.Config.Sources.HTTPFeed.PageSize,
	})
}
