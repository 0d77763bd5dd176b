// Package recsync generates item-to-item recommendations from uploaded
// datasets and publishes them atomically to a relational store and a
// two-generation Redis cache.
package recsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ammar0144/recsync/pkg/api"
	"github.com/ammar0144/recsync/pkg/config"
	"github.com/ammar0144/recsync/pkg/db"
	"github.com/ammar0144/recsync/pkg/events"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/pipeline"
	"github.com/ammar0144/recsync/pkg/readout"
	"github.com/ammar0144/recsync/pkg/redis"
	"github.com/ammar0144/recsync/pkg/repository"
	"github.com/ammar0144/recsync/pkg/similarity"
	"github.com/ammar0144/recsync/pkg/supervisor"
	"github.com/ammar0144/recsync/pkg/trigger"
)

// Config represents the application configuration
type Config = config.Config

// LoadConfig reads defaults, the config file and RECSYNC_* overrides
func LoadConfig() (*Config, error) {
	return config.Load()
}

// NewDBManager creates a new database manager
func NewDBManager(config *db.Config) (*db.Manager, error) {
	return db.NewManager(config)
}

// NewRedisManager creates a new Redis manager
func NewRedisManager(config *redis.Config) (*redis.Manager, error) {
	return redis.NewManager(config)
}

// NewRepository creates the recommendation repository on dbManager
func NewRepository(dbManager *db.Manager) *repository.RecommendationRepository {
	return repository.NewRecommendationRepository(dbManager)
}

// NewPublisher creates a publisher that commits every batch to both stores
// or to neither
func NewPublisher(repo *repository.RecommendationRepository, cache *redis.Manager, config *pipeline.Config) *pipeline.Publisher {
	return pipeline.NewPublisher(pipeline.NewStores(repo, cache), config)
}

// ============================================================================
// APPLICATION
// ============================================================================

// App holds the wired components of a running instance
type App struct {
	Config     *Config
	DB         *db.Manager
	Cache      *redis.Manager
	Repository *repository.RecommendationRepository
	Bus        *events.Bus
	Launcher   *pipeline.Launcher
	Readout    *readout.Service
	Router     http.Handler
}

// New connects to both stores and wires the pipeline, the read-out service
// and the HTTP router. Close releases the connections.
func New(ctx context.Context, cfg *Config) (*App, error) {
	logging.Init(cfg.Logging)

	dbManager, err := NewDBManager(&cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	repo := NewRepository(dbManager)
	if cfg.DB.AutoMigrate {
		if err := repo.AutoMigrate(ctx); err != nil {
			dbManager.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	cache, err := NewRedisManager(&cfg.Redis)
	if err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	engine := similarity.NewEngine(cfg.Similarity)
	publisher := NewPublisher(repo, cache, &cfg.Pipeline)
	runner := pipeline.NewRunner(engine, publisher, &cfg.Pipeline, cfg.Similarity.TopN)
	launcher := pipeline.NewLauncher(runner, cfg.Pipeline.MaxJobs)

	bus := events.NewBus()
	bus.Subscribe(events.DatasetUploaded, "publish_recommendations", pipeline.NewDatasetHandler(launcher))

	reader := readout.NewService(cache, repo, cfg.Readout)
	handler := api.NewHandler(cfg.HTTP, api.Dependencies{
		Recommender: reader,
		Bus:         bus,
		Jobs:        launcher,
		CacheStats:  cache.GetMetrics(),
		Health: map[string]api.HealthCheck{
			"database": dbManager.Ping,
			"cache":    cache.Ping,
		},
	})

	return &App{
		Config:     cfg,
		DB:         dbManager,
		Cache:      cache,
		Repository: repo,
		Bus:        bus,
		Launcher:   launcher,
		Readout:    reader,
		Router:     api.NewRouter(handler),
	}, nil
}

// Run serves the HTTP API, the job launcher and, when enabled, the Kafka
// trigger until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	tree := supervisor.NewTree(logging.NewSlogLogger(), a.Config.Supervisor)
	tree.AddPipelineService(supervisor.Named{Name: "job-launcher", Service: a.Launcher})

	if a.Config.Trigger.Enabled {
		consumer, err := trigger.NewConsumer(a.Config.Trigger, a.Bus)
		if err != nil {
			return fmt.Errorf("trigger: %w", err)
		}
		tree.AddPipelineService(consumer)
	}
	tree.AddAPIService(api.NewServer(a.Config.HTTP, a.Router))

	logging.Info().
		Str("addr", a.Config.HTTP.Addr()).
		Bool("trigger", a.Config.Trigger.Enabled).
		Str("atomicity", a.Config.Pipeline.Atomicity).
		Msg("recsync starting")

	err := tree.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
	}
	return err
}

// Close releases both store connections
func (a *App) Close() error {
	return errors.Join(a.Cache.Close(), a.DB.Close())
}
