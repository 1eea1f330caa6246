// Package app wires the import service from configuration. The API, the
// worker and the CLI share it so every binary runs the same pipeline.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/CatalogImport/internal/config"
	"github.com/dharsanguruparan/CatalogImport/internal/database"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/extract"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/load"
	"github.com/dharsanguruparan/CatalogImport/internal/etl/transform"
	"github.com/dharsanguruparan/CatalogImport/internal/events"
	"github.com/dharsanguruparan/CatalogImport/internal/heartbeat"
	"github.com/dharsanguruparan/CatalogImport/internal/pipeline"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
	"github.com/dharsanguruparan/CatalogImport/internal/repository"
	"github.com/dharsanguruparan/CatalogImport/internal/s3storage"
)

// ResultStore is everything the service does with import results.
type ResultStore interface {
	queue.ResultChecker
	load.ResultWriter
	pipeline.ResultStore
}

// Backends are the stores and external systems a Services is built on.
// Heartbeat and Events may be nil.
type Backends struct {
	Queue     queue.Store
	Results   ResultStore
	Catalog   pipeline.Catalog
	ImportDB  load.Database
	Files     pipeline.FileResolver
	Heartbeat heartbeat.Monitor
	Events    events.Publisher
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Services is the assembled import service.
type Services struct {
	Queue    *queue.Service
	Catalog  pipeline.Catalog
	Registry *extract.Registry
	Loader   *load.Loader
	Manager  *pipeline.Manager
}

// Build assembles the queue, the pipeline and diagnosis on top of b.
func Build(cfg *config.Config, b Backends, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	q := queue.NewService(b.Queue, b.Results, queue.WithClock(clock), queue.WithLogger(logger))
	registry := extract.NewDefaultRegistry(logger, extract.Options{})
	loader := load.New(b.ImportDB, b.Results, q,
		load.WithReplace(cfg.ReplaceTables),
		load.WithClock(clock),
		load.WithLogger(logger),
	)
	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Queue:       q,
		Catalog:     b.Catalog,
		Files:       b.Files,
		Extractor:   registry,
		Transformer: transform.NewService(transform.WithClock(clock)),
		Loader:      loader,
		Heartbeat:   b.Heartbeat,
		Events:      b.Events,
		Logger:      logger,
	})
	diag := pipeline.NewDiagnoser(pipeline.DiagnoserDeps{
		Queue:     q,
		Catalog:   b.Catalog,
		Files:     b.Files,
		Database:  b.ImportDB,
		Results:   b.Results,
		Formats:   registry,
		TableName: loader.TableName,
		Heartbeat: b.Heartbeat,
		Logger:    logger,
	})
	return &Services{
		Queue:    q,
		Catalog:  b.Catalog,
		Registry: registry,
		Loader:   loader,
		Manager:  pipeline.NewManager(q, orch, diag, logger),
	}
}

// App owns the connections behind a production Services.
type App struct {
	*Services
	Config   *config.Config
	Redis    *redis.Client
	ImportDB *load.PostgresDatabase

	closers []func()
	ready   map[string]func(ctx context.Context) error
}

// Open connects to every configured backend and builds the service. The
// catalog schema is migrated first.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, ready: make(map[string]func(ctx context.Context) error)}
	opened := false
	defer func() {
		if !opened {
			a.Close()
		}
	}()

	if err := database.Migrate(cfg.CatalogDSN, logger); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	catalogPool, err := database.Connect(ctx, cfg.CatalogDSN)
	if err != nil {
		return nil, fmt.Errorf("connect catalog database: %w", err)
	}
	a.closers = append(a.closers, catalogPool.Close)
	a.ready["catalog"] = catalogPool.Ping

	importPool := catalogPool
	if cfg.ImportDSN != cfg.CatalogDSN {
		if importPool, err = database.Connect(ctx, cfg.ImportDSN); err != nil {
			return nil, fmt.Errorf("connect import database: %w", err)
		}
		a.closers = append(a.closers, importPool.Close)
	}
	a.ImportDB = load.NewPostgresDatabase(importPool)
	a.ready["import_database"] = a.ImportDB.Ping

	files, err := openFiles(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, func() { _ = a.Redis.Close() })
	var monitor heartbeat.Monitor = heartbeat.NewRedis(a.Redis, cfg.HeartbeatTTL)
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, heartbeats are process-local", slog.String("error", err.Error()))
		monitor = heartbeat.NewLocal(cfg.HeartbeatTTL)
	} else {
		a.ready["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}

	publisher, err := a.openEvents(cfg)
	if err != nil {
		return nil, err
	}

	results := repository.NewResultRepository(catalogPool)
	a.Services = Build(cfg, Backends{
		Queue:     repository.NewQueueRepository(catalogPool),
		Results:   results,
		Catalog:   repository.NewCatalogRepository(catalogPool),
		ImportDB:  a.ImportDB,
		Files:     files,
		Heartbeat: monitor,
		Events:    publisher,
	}, logger)
	opened = true
	return a, nil
}

func openFiles(ctx context.Context, cfg *config.Config) (pipeline.FileResolver, error) {
	if !cfg.ObjectStorage() {
		return pipeline.LocalFiles{Root: cfg.MediaRoot}, nil
	}
	store, err := s3storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return pipeline.ObjectFiles{Store: store}, nil
}

func (a *App) openEvents(cfg *config.Config) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return events.Nop{}, nil
	}
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })
	pub, err := events.NewRabbitPublisher(conn, cfg.AMQPExchange)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = pub.Close() })
	return pub, nil
}

// Ready returns the readiness checks of the open backends.
func (a *App) Ready() map[string]func(ctx context.Context) error {
	return a.ready
}

// Close releases every connection in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
